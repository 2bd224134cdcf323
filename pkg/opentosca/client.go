package opentosca

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// MarkerFile is the archive entry holding the repository's CSAR file id.
const MarkerFile = "CSAR-REPOSITORY.txt"

const selfTitle = "Self"

// Client performs deployment operations against one OpenTOSCA container.
// A Client holds only immutable configuration.
type Client struct {
	server    Server
	transport *Transport
	logger    *slog.Logger
}

// New constructs a Client for the server. The address is parsed once here.
func New(server Server, logger *slog.Logger, opts ...Option) (*Client, error) {
	transport, err := NewTransport(server.Address, opts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		server:    server,
		transport: transport,
		logger:    logger.With("opentosca_server", server.ID, "opentosca_address", transport.Base()),
	}, nil
}

// Server returns the descriptor the client is bound to.
func (c *Client) Server() Server {
	return c.server
}

// Upload posts the file at path to the container as fileName and returns the
// location of the created CSAR.
func (c *Client) Upload(ctx context.Context, path, fileName string) (Deployment, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Deployment{}, fmt.Errorf("%w: %s", ErrFileMissing, path)
		}
		return Deployment{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Deployment{}, fmt.Errorf("%w: %s is a directory", ErrFileMissing, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return Deployment{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	target := c.transport.Endpoint("CSARs")
	reply, err := c.transport.PostMultipart(ctx, target, "file", fileName, f)
	if err != nil {
		c.logger.Warn("csar upload failed", "path", path, "url", target, "error", err)
		return Deployment{}, err
	}
	if reply.StatusCode != http.StatusCreated {
		c.logger.Warn("csar upload rejected", "path", path, "url", target, "status", reply.StatusCode)
		return Deployment{}, &RejectedError{Op: http.MethodPost, URL: target, StatusCode: reply.StatusCode}
	}
	location := strings.TrimSpace(reply.Header.Get("Location"))
	if location == "" {
		c.logger.Warn("csar upload returned no location", "path", path, "url", target)
		return Deployment{}, fmt.Errorf("%w: POST %s: 201 without Location header", ErrInvalidResponse, target)
	}
	if loc, err := url.Parse(location); err == nil && !loc.IsAbs() {
		if base, err := url.Parse(target); err == nil {
			location = base.ResolveReference(loc).String()
		}
	}
	c.logger.Info("csar uploaded", "path", path, "location", location)
	return Deployment{Location: location}, nil
}

// Delete removes the CSAR at location, an absolute URL previously returned by Upload.
func (c *Client) Delete(ctx context.Context, location string) error {
	reply, err := c.transport.Delete(ctx, location)
	if err != nil {
		c.logger.Warn("csar delete failed", "location", location, "error", err)
		return err
	}
	if reply.StatusCode != http.StatusOK {
		c.logger.Warn("csar delete rejected", "location", location, "status", reply.StatusCode)
		return &RejectedError{Op: http.MethodDelete, URL: c.transport.Resolve(location), StatusCode: reply.StatusCode}
	}
	return nil
}

// ListDeployed returns the CSARs known to the container, excluding the self link.
func (c *Client) ListDeployed(ctx context.Context) ([]Link, error) {
	var list linkList
	if err := c.transport.GetXML(ctx, c.transport.Endpoint("CSARs"), &list); err != nil {
		c.logger.Warn("list deployed csars failed", "error", err)
		return nil, err
	}
	all := list.links()
	out := make([]Link, 0, len(all))
	for _, link := range all {
		if link.Title == selfTitle {
			continue
		}
		out = append(out, link)
	}
	return out, nil
}

// ListServiceInstances fetches the instance list and then every linked instance.
func (c *Client) ListServiceInstances(ctx context.Context) ([]ServiceInstance, error) {
	var list linkList
	if err := c.transport.GetXML(ctx, c.transport.Endpoint("instancedata", "serviceInstances"), &list); err != nil {
		c.logger.Warn("list service instances failed", "error", err)
		return nil, err
	}
	links := list.links()
	instances, err := FetchLinked[ServiceInstance](ctx, c.transport, links, c.transport.Parallelism())
	if err != nil {
		c.logger.Warn("fetch service instance failed", "links", len(links), "error", err)
		return nil, err
	}
	for i := range instances {
		instances[i].Reference = links[i].Href
	}
	return instances, nil
}

// ResolveCsarFileID reads the repository marker from a deployed CSAR. A non-200
// answer means the CSAR did not come from this repository and yields found=false.
func (c *Client) ResolveCsarFileID(ctx context.Context, csarFileName string) (int64, bool, error) {
	target := c.transport.Endpoint("CSARs", csarFileName, "Content", MarkerFile)
	reply, err := c.transport.GetRaw(ctx, target, "application/octet-stream")
	if err != nil {
		c.logger.Warn("resolve csar file id failed", "csar", csarFileName, "error", err)
		return 0, false, err
	}
	if reply.StatusCode != http.StatusOK {
		c.logger.Debug("csar file id not found", "csar", csarFileName, "status", reply.StatusCode)
		return 0, false, nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(reply.Body)), 10, 64)
	if err != nil {
		c.logger.Warn("csar file id marker is not an integer", "csar", csarFileName, "error", err)
		return 0, false, fmt.Errorf("%w: marker for %s: %v", ErrInvalidResponse, csarFileName, err)
	}
	c.logger.Debug("csar file id found", "csar", csarFileName, "csar_file_id", id)
	return id, true, nil
}
