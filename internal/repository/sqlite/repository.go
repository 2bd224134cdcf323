package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
)

// Repository implements persistence interfaces on SQLite.
type Repository struct {
	DB *sql.DB
}

var _ repository.Store = (*Repository)(nil)

// Ping checks the database handle.
func (r *Repository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (name, mail, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.Name, user.Mail, user.PasswordHash, formatTime(user.CreatedAt),
	)
	if err != nil {
		return mapWriteErr(fmt.Sprintf("insert user %q", user.Name), err)
	}
	user.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, name, mail, password_hash, created_at FROM users WHERE name = ?`, name)
	return scanUser(row, fmt.Sprintf("user %q", name))
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, name, mail, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row, fmt.Sprintf("user %d", id))
}

func scanUser(s scanner, what string) (*domain.User, error) {
	var u domain.User
	var createdAt string
	if err := s.Scan(&u.ID, &u.Name, &u.Mail, &u.PasswordHash, &createdAt); err != nil {
		return nil, mapReadErr(what, err)
	}
	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) CreateCsar(ctx context.Context, csar *domain.Csar) error {
	if csar.CreatedAt.IsZero() {
		csar.CreatedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO csars (name, user_id, created_at) VALUES (?, ?, ?)`,
		csar.Name, nullableID(csar.UserID), formatTime(csar.CreatedAt),
	)
	if err != nil {
		return mapWriteErr(fmt.Sprintf("insert csar %q", csar.Name), err)
	}
	csar.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) GetCsarByID(ctx context.Context, id int64) (*domain.Csar, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(user_id, 0), created_at FROM csars WHERE id = ?`, id)
	return scanCsar(row, fmt.Sprintf("csar %d", id))
}

func (r *Repository) ListCsars(ctx context.Context) ([]domain.Csar, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, name, COALESCE(user_id, 0), created_at FROM csars ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list csars: %w", err)
	}
	defer rows.Close()

	csars := make([]domain.Csar, 0)
	for rows.Next() {
		c, err := scanCsar(rows, "csar")
		if err != nil {
			return nil, err
		}
		csars = append(csars, *c)
	}
	return csars, rows.Err()
}

func (r *Repository) DeleteCsar(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM csars WHERE id = ?`, id)
	if err != nil {
		return mapWriteErr(fmt.Sprintf("delete csar %d", id), err)
	}
	return expectAffected(res, fmt.Sprintf("csar %d", id))
}

func scanCsar(s scanner, what string) (*domain.Csar, error) {
	var c domain.Csar
	var createdAt string
	if err := s.Scan(&c.ID, &c.Name, &c.UserID, &createdAt); err != nil {
		return nil, mapReadErr(what, err)
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) CreateHashedFile(ctx context.Context, file *domain.HashedFile) error {
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO hashed_files (hash, size, filename, created_at) VALUES (?, ?, ?, ?)`,
		file.Hash, file.Size, file.Filename, formatTime(file.CreatedAt),
	)
	if err != nil {
		return mapWriteErr(fmt.Sprintf("insert hashed file %s", file.Hash), err)
	}
	file.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) GetHashedFileByID(ctx context.Context, id int64) (*domain.HashedFile, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, hash, size, filename, created_at FROM hashed_files WHERE id = ?`, id)
	return scanHashedFile(row, fmt.Sprintf("hashed file %d", id))
}

func (r *Repository) GetHashedFileByHash(ctx context.Context, hash string) (*domain.HashedFile, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, hash, size, filename, created_at FROM hashed_files WHERE hash = ?`, hash)
	return scanHashedFile(row, fmt.Sprintf("hashed file %s", hash))
}

func (r *Repository) CountCsarFilesByHashedFile(ctx context.Context, hashedFileID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM csar_files WHERE hashed_file_id = ?`, hashedFileID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count csar files: %w", err)
	}
	return n, nil
}

func (r *Repository) DeleteHashedFile(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM hashed_files WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("hashed file %d still referenced: %w", id, repository.ErrInvalidArgument)
		}
		return fmt.Errorf("delete hashed file %d: %w", id, err)
	}
	return expectAffected(res, fmt.Sprintf("hashed file %d", id))
}

func scanHashedFile(s scanner, what string) (*domain.HashedFile, error) {
	var f domain.HashedFile
	var createdAt string
	if err := s.Scan(&f.ID, &f.Hash, &f.Size, &f.Filename, &createdAt); err != nil {
		return nil, mapReadErr(what, err)
	}
	var err error
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *Repository) CreateCsarFile(ctx context.Context, file *domain.CsarFile) error {
	if file.UploadedAt.IsZero() {
		file.UploadedAt = time.Now().UTC()
	}
	row := r.DB.QueryRowContext(ctx,
		`INSERT INTO csar_files (csar_id, hashed_file_id, name, version, uploaded_at)
		SELECT ?, ?, ?, COALESCE(MAX(version), 0) + 1, ? FROM csar_files WHERE csar_id = ?
		RETURNING id, version`,
		file.CsarID, file.HashedFileID, file.Name, formatTime(file.UploadedAt), file.CsarID,
	)
	if err := row.Scan(&file.ID, &file.Version); err != nil {
		return mapWriteErr(fmt.Sprintf("insert csar file for csar %d", file.CsarID), err)
	}
	return nil
}

func (r *Repository) GetCsarFileByID(ctx context.Context, id int64) (*domain.CsarFile, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, csar_id, hashed_file_id, name, version, uploaded_at FROM csar_files WHERE id = ?`, id)
	return scanCsarFile(row, fmt.Sprintf("csar file %d", id))
}

func (r *Repository) ListCsarFilesByCsar(ctx context.Context, csarID int64) ([]domain.CsarFile, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, csar_id, hashed_file_id, name, version, uploaded_at
		FROM csar_files WHERE csar_id = ? ORDER BY version`, csarID)
	if err != nil {
		return nil, fmt.Errorf("list csar files: %w", err)
	}
	defer rows.Close()

	files := make([]domain.CsarFile, 0)
	for rows.Next() {
		f, err := scanCsarFile(rows, "csar file")
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (r *Repository) DeleteCsarFile(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM csar_files WHERE id = ?`, id)
	if err != nil {
		return mapWriteErr(fmt.Sprintf("delete csar file %d", id), err)
	}
	return expectAffected(res, fmt.Sprintf("csar file %d", id))
}

func scanCsarFile(s scanner, what string) (*domain.CsarFile, error) {
	var f domain.CsarFile
	var uploadedAt string
	if err := s.Scan(&f.ID, &f.CsarID, &f.HashedFileID, &f.Name, &f.Version, &uploadedAt); err != nil {
		return nil, mapReadErr(what, err)
	}
	var err error
	if f.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *Repository) CreateServer(ctx context.Context, server *domain.RemoteServer) error {
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO remote_servers (kind, name, address, user_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(server.Kind), server.Name, server.Address, nullableID(server.UserID), formatTime(server.CreatedAt),
	)
	if err != nil {
		return mapWriteErr(fmt.Sprintf("insert %s server %q", server.Kind, server.Name), err)
	}
	server.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) GetServer(ctx context.Context, kind domain.ServerKind, id int64) (*domain.RemoteServer, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, kind, name, address, COALESCE(user_id, 0), created_at
		FROM remote_servers WHERE kind = ? AND id = ?`, string(kind), id)
	return scanServer(row, fmt.Sprintf("%s server %d", kind, id))
}

func (r *Repository) ListServers(ctx context.Context, kind domain.ServerKind) ([]domain.RemoteServer, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, kind, name, address, COALESCE(user_id, 0), created_at
		FROM remote_servers WHERE kind = ? ORDER BY name`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	servers := make([]domain.RemoteServer, 0)
	for rows.Next() {
		s, err := scanServer(rows, "server")
		if err != nil {
			return nil, err
		}
		servers = append(servers, *s)
	}
	return servers, rows.Err()
}

func (r *Repository) DeleteServer(ctx context.Context, kind domain.ServerKind, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM remote_servers WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return mapWriteErr(fmt.Sprintf("delete %s server %d", kind, id), err)
	}
	return expectAffected(res, fmt.Sprintf("%s server %d", kind, id))
}

func scanServer(s scanner, what string) (*domain.RemoteServer, error) {
	var srv domain.RemoteServer
	var kind, createdAt string
	if err := s.Scan(&srv.ID, &kind, &srv.Name, &srv.Address, &srv.UserID, &createdAt); err != nil {
		return nil, mapReadErr(what, err)
	}
	srv.Kind = domain.ServerKind(kind)
	var err error
	if srv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &srv, nil
}

func (r *Repository) CreateDeployment(ctx context.Context, d *domain.CsarFileDeployment) error {
	if d.DeployedAt.IsZero() {
		d.DeployedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO csar_file_deployments (csar_file_id, server_id, location, deployed_at) VALUES (?, ?, ?, ?)`,
		d.CsarFileID, d.ServerID, d.Location, formatTime(d.DeployedAt),
	)
	if err != nil {
		return mapWriteErr(fmt.Sprintf("insert deployment of csar file %d on server %d", d.CsarFileID, d.ServerID), err)
	}
	return nil
}

func (r *Repository) GetDeployment(ctx context.Context, csarFileID, serverID int64) (*domain.CsarFileDeployment, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT csar_file_id, server_id, location, deployed_at
		FROM csar_file_deployments WHERE csar_file_id = ? AND server_id = ?`, csarFileID, serverID)
	return scanDeployment(row, fmt.Sprintf("deployment of csar file %d on server %d", csarFileID, serverID))
}

func (r *Repository) ListDeploymentsByCsarFile(ctx context.Context, csarFileID int64) ([]domain.CsarFileDeployment, error) {
	return r.listDeployments(ctx,
		`SELECT csar_file_id, server_id, location, deployed_at
		FROM csar_file_deployments WHERE csar_file_id = ? ORDER BY server_id`, csarFileID)
}

func (r *Repository) ListDeploymentsByServer(ctx context.Context, serverID int64) ([]domain.CsarFileDeployment, error) {
	return r.listDeployments(ctx,
		`SELECT csar_file_id, server_id, location, deployed_at
		FROM csar_file_deployments WHERE server_id = ? ORDER BY csar_file_id`, serverID)
}

func (r *Repository) listDeployments(ctx context.Context, query string, arg int64) ([]domain.CsarFileDeployment, error) {
	rows, err := r.DB.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	deployments := make([]domain.CsarFileDeployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows, "deployment")
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

func (r *Repository) CountDeploymentsByCsar(ctx context.Context, csarID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM csar_file_deployments d
		INNER JOIN csar_files f ON f.id = d.csar_file_id
		WHERE f.csar_id = ?`, csarID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deployments: %w", err)
	}
	return n, nil
}

func (r *Repository) DeleteDeployment(ctx context.Context, csarFileID, serverID int64) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM csar_file_deployments WHERE csar_file_id = ? AND server_id = ?`, csarFileID, serverID)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("deployment of csar file %d on server %d", csarFileID, serverID))
}

func scanDeployment(s scanner, what string) (*domain.CsarFileDeployment, error) {
	var d domain.CsarFileDeployment
	var deployedAt string
	if err := s.Scan(&d.CsarFileID, &d.ServerID, &d.Location, &deployedAt); err != nil {
		return nil, mapReadErr(what, err)
	}
	var err error
	if d.DeployedAt, err = parseTime(deployedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
