package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.Store = (*Repository)(nil)

// Ping checks the pool.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// mapErr translates pgx errors into repository sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, repository.ErrAlreadyExists)
		case "23503":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, repository.ErrNotFound)
		case "23514", "22P02":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, repository.ErrInvalidArgument)
		}
	}
	return err
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func expectAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (name, mail, password_hash)
		VALUES ($1, $2, $3) RETURNING id, created_at`
	return mapErr(r.pool.QueryRow(ctx, query, user.Name, user.Mail, user.PasswordHash).Scan(&user.ID, &user.CreatedAt))
}

// GetUserByName fetches a user by login name.
func (r *Repository) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	const query = `SELECT id, name, mail, password_hash, created_at FROM users WHERE name = $1`
	var u domain.User
	if err := r.pool.QueryRow(ctx, query, name).Scan(&u.ID, &u.Name, &u.Mail, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `SELECT id, name, mail, password_hash, created_at FROM users WHERE id = $1`
	var u domain.User
	if err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Name, &u.Mail, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// CreateCsar inserts a CSAR.
func (r *Repository) CreateCsar(ctx context.Context, csar *domain.Csar) error {
	const query = `INSERT INTO csars (name, user_id) VALUES ($1, $2) RETURNING id, created_at`
	return mapErr(r.pool.QueryRow(ctx, query, csar.Name, nullableID(csar.UserID)).Scan(&csar.ID, &csar.CreatedAt))
}

// GetCsarByID fetches a CSAR.
func (r *Repository) GetCsarByID(ctx context.Context, id int64) (*domain.Csar, error) {
	const query = `SELECT id, name, COALESCE(user_id, 0), created_at FROM csars WHERE id = $1`
	var c domain.Csar
	if err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.UserID, &c.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ListCsars returns all CSARs ordered by name.
func (r *Repository) ListCsars(ctx context.Context) ([]domain.Csar, error) {
	const query = `SELECT id, name, COALESCE(user_id, 0), created_at FROM csars ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	csars := make([]domain.Csar, 0)
	for rows.Next() {
		var c domain.Csar
		if err := rows.Scan(&c.ID, &c.Name, &c.UserID, &c.CreatedAt); err != nil {
			return nil, err
		}
		csars = append(csars, c)
	}
	return csars, rows.Err()
}

// DeleteCsar removes a CSAR and, by cascade, its files.
func (r *Repository) DeleteCsar(ctx context.Context, id int64) error {
	const query = `DELETE FROM csars WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return mapErr(err)
	}
	return expectAffected(tag)
}

// CreateHashedFile inserts blob metadata.
func (r *Repository) CreateHashedFile(ctx context.Context, file *domain.HashedFile) error {
	const query = `INSERT INTO hashed_files (hash, size, filename)
		VALUES ($1, $2, $3) RETURNING id, created_at`
	return mapErr(r.pool.QueryRow(ctx, query, file.Hash, file.Size, file.Filename).Scan(&file.ID, &file.CreatedAt))
}

// GetHashedFileByID fetches blob metadata by id.
func (r *Repository) GetHashedFileByID(ctx context.Context, id int64) (*domain.HashedFile, error) {
	const query = `SELECT id, hash, size, filename, created_at FROM hashed_files WHERE id = $1`
	var f domain.HashedFile
	if err := r.pool.QueryRow(ctx, query, id).Scan(&f.ID, &f.Hash, &f.Size, &f.Filename, &f.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

// GetHashedFileByHash fetches blob metadata by content hash.
func (r *Repository) GetHashedFileByHash(ctx context.Context, hash string) (*domain.HashedFile, error) {
	const query = `SELECT id, hash, size, filename, created_at FROM hashed_files WHERE hash = $1`
	var f domain.HashedFile
	if err := r.pool.QueryRow(ctx, query, hash).Scan(&f.ID, &f.Hash, &f.Size, &f.Filename, &f.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

// CountCsarFilesByHashedFile counts revisions sharing a blob.
func (r *Repository) CountCsarFilesByHashedFile(ctx context.Context, hashedFileID int64) (int, error) {
	const query = `SELECT COUNT(1) FROM csar_files WHERE hashed_file_id = $1`
	var count int
	if err := r.pool.QueryRow(ctx, query, hashedFileID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteHashedFile removes blob metadata that no revision references.
func (r *Repository) DeleteHashedFile(ctx context.Context, id int64) error {
	const query = `DELETE FROM hashed_files WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("hashed file %d still referenced: %w", id, repository.ErrInvalidArgument)
		}
		return err
	}
	return expectAffected(tag)
}

// CreateCsarFile inserts a revision with the next free version of its CSAR.
func (r *Repository) CreateCsarFile(ctx context.Context, file *domain.CsarFile) error {
	const query = `INSERT INTO csar_files (csar_id, hashed_file_id, name, version)
		SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1 FROM csar_files WHERE csar_id = $1
		RETURNING id, version, uploaded_at`
	row := r.pool.QueryRow(ctx, query, file.CsarID, file.HashedFileID, file.Name)
	return mapErr(row.Scan(&file.ID, &file.Version, &file.UploadedAt))
}

// GetCsarFileByID fetches a revision.
func (r *Repository) GetCsarFileByID(ctx context.Context, id int64) (*domain.CsarFile, error) {
	const query = `SELECT id, csar_id, hashed_file_id, name, version, uploaded_at FROM csar_files WHERE id = $1`
	var f domain.CsarFile
	if err := r.pool.QueryRow(ctx, query, id).Scan(&f.ID, &f.CsarID, &f.HashedFileID, &f.Name, &f.Version, &f.UploadedAt); err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

// ListCsarFilesByCsar returns revisions ordered by version.
func (r *Repository) ListCsarFilesByCsar(ctx context.Context, csarID int64) ([]domain.CsarFile, error) {
	const query = `SELECT id, csar_id, hashed_file_id, name, version, uploaded_at
		FROM csar_files WHERE csar_id = $1 ORDER BY version`
	rows, err := r.pool.Query(ctx, query, csarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]domain.CsarFile, 0)
	for rows.Next() {
		var f domain.CsarFile
		if err := rows.Scan(&f.ID, &f.CsarID, &f.HashedFileID, &f.Name, &f.Version, &f.UploadedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteCsarFile removes a revision.
func (r *Repository) DeleteCsarFile(ctx context.Context, id int64) error {
	const query = `DELETE FROM csar_files WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return mapErr(err)
	}
	return expectAffected(tag)
}

// CreateServer registers a remote server.
func (r *Repository) CreateServer(ctx context.Context, server *domain.RemoteServer) error {
	const query = `INSERT INTO remote_servers (kind, name, address, user_id)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	row := r.pool.QueryRow(ctx, query, string(server.Kind), server.Name, server.Address, nullableID(server.UserID))
	return mapErr(row.Scan(&server.ID, &server.CreatedAt))
}

// GetServer fetches a remote server of the given kind.
func (r *Repository) GetServer(ctx context.Context, kind domain.ServerKind, id int64) (*domain.RemoteServer, error) {
	const query = `SELECT id, kind, name, address, COALESCE(user_id, 0), created_at
		FROM remote_servers WHERE kind = $1 AND id = $2`
	var s domain.RemoteServer
	var k string
	if err := r.pool.QueryRow(ctx, query, string(kind), id).Scan(&s.ID, &k, &s.Name, &s.Address, &s.UserID, &s.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	s.Kind = domain.ServerKind(k)
	return &s, nil
}

// ListServers returns servers of one kind ordered by name.
func (r *Repository) ListServers(ctx context.Context, kind domain.ServerKind) ([]domain.RemoteServer, error) {
	const query = `SELECT id, kind, name, address, COALESCE(user_id, 0), created_at
		FROM remote_servers WHERE kind = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, query, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	servers := make([]domain.RemoteServer, 0)
	for rows.Next() {
		var s domain.RemoteServer
		var k string
		if err := rows.Scan(&s.ID, &k, &s.Name, &s.Address, &s.UserID, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Kind = domain.ServerKind(k)
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// DeleteServer removes a remote server registration.
func (r *Repository) DeleteServer(ctx context.Context, kind domain.ServerKind, id int64) error {
	const query = `DELETE FROM remote_servers WHERE kind = $1 AND id = $2`
	tag, err := r.pool.Exec(ctx, query, string(kind), id)
	if err != nil {
		return mapErr(err)
	}
	return expectAffected(tag)
}

// CreateDeployment records a CSAR file on a server.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.CsarFileDeployment) error {
	const query = `INSERT INTO csar_file_deployments (csar_file_id, server_id, location)
		VALUES ($1, $2, $3) RETURNING deployed_at`
	return mapErr(r.pool.QueryRow(ctx, query, d.CsarFileID, d.ServerID, d.Location).Scan(&d.DeployedAt))
}

// GetDeployment fetches one deployment record.
func (r *Repository) GetDeployment(ctx context.Context, csarFileID, serverID int64) (*domain.CsarFileDeployment, error) {
	const query = `SELECT csar_file_id, server_id, location, deployed_at
		FROM csar_file_deployments WHERE csar_file_id = $1 AND server_id = $2`
	var d domain.CsarFileDeployment
	if err := r.pool.QueryRow(ctx, query, csarFileID, serverID).Scan(&d.CsarFileID, &d.ServerID, &d.Location, &d.DeployedAt); err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

// ListDeploymentsByCsarFile returns where a revision is deployed.
func (r *Repository) ListDeploymentsByCsarFile(ctx context.Context, csarFileID int64) ([]domain.CsarFileDeployment, error) {
	const query = `SELECT csar_file_id, server_id, location, deployed_at
		FROM csar_file_deployments WHERE csar_file_id = $1 ORDER BY server_id`
	return r.listDeployments(ctx, query, csarFileID)
}

// ListDeploymentsByServer returns revisions deployed on a server.
func (r *Repository) ListDeploymentsByServer(ctx context.Context, serverID int64) ([]domain.CsarFileDeployment, error) {
	const query = `SELECT csar_file_id, server_id, location, deployed_at
		FROM csar_file_deployments WHERE server_id = $1 ORDER BY csar_file_id`
	return r.listDeployments(ctx, query, serverID)
}

func (r *Repository) listDeployments(ctx context.Context, query string, arg int64) ([]domain.CsarFileDeployment, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.CsarFileDeployment, 0)
	for rows.Next() {
		var d domain.CsarFileDeployment
		if err := rows.Scan(&d.CsarFileID, &d.ServerID, &d.Location, &d.DeployedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// CountDeploymentsByCsar counts deployments across all revisions of a CSAR.
func (r *Repository) CountDeploymentsByCsar(ctx context.Context, csarID int64) (int, error) {
	const query = `SELECT COUNT(1) FROM csar_file_deployments d
		INNER JOIN csar_files f ON f.id = d.csar_file_id
		WHERE f.csar_id = $1`
	var count int
	if err := r.pool.QueryRow(ctx, query, csarID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteDeployment removes a deployment record.
func (r *Repository) DeleteDeployment(ctx context.Context, csarFileID, serverID int64) error {
	const query = `DELETE FROM csar_file_deployments WHERE csar_file_id = $1 AND server_id = $2`
	tag, err := r.pool.Exec(ctx, query, csarFileID, serverID)
	if err != nil {
		return mapErr(err)
	}
	return expectAffected(tag)
}
