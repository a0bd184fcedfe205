// Package orchestrator wraps the Docker Engine API client for Swarm
// operations (SPEC_FULL.md §4.5). Adapted in idiom from the teacher's
// internal/clients/docker.go: same constant-string-plus-pkg/errors.Wrap
// style, same TLS-via-go-connections/tlsconfig setup, same NotFoundError
// typed-error pattern — but constructed from plain config instead of a
// Kubernetes ProviderConfig CRD + Secret lookup.
package orchestrator

import (
	"net"
	"net/http"
	"strings"
	"time"

	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
	"github.com/pkg/errors"

	"github.com/zaneops/compose-core/internal/config"
)

const (
	errCreateDockerClient = "cannot create docker client"
	errLoadTLSConfig      = "cannot load docker TLS configuration"
)

// NotFoundError reports that a Swarm resource (service, network, config,
// volume) does not exist. Ported from the teacher's NotFoundError.
type NotFoundError struct {
	ResourceType string
	ResourceID   string
}

func (e *NotFoundError) Error() string {
	return e.ResourceType + " " + e.ResourceID + " not found"
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(resourceType, resourceID string) error {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAlreadyExists reports whether err is the Engine API's conflict response
// for a network, volume, or config name that is already registered, so
// CreateResources can treat resource creation as idempotent across repeated
// deployments of the same stack.
func IsAlreadyExists(err error) bool {
	return err != nil && strings.Contains(errors.Cause(err).Error(), "already exists")
}

// NewClient builds a *dockerclient.Client from cfg, talking to the Swarm
// manager's Engine API endpoint.
func NewClient(cfg *config.Config) (*dockerclient.Client, error) {
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}

	if cfg.DockerHost != "" {
		opts = append(opts, dockerclient.WithHost(cfg.DockerHost))
	}

	if cfg.DockerTLSVerify {
		httpClient, err := newTLSHTTPClient(cfg.DockerCertPath)
		if err != nil {
			return nil, errors.Wrap(err, errLoadTLSConfig)
		}
		opts = append(opts, dockerclient.WithHTTPClient(httpClient))
	}

	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, errCreateDockerClient)
	}
	return cli, nil
}

func newTLSHTTPClient(certPath string) (*http.Client, error) {
	options := tlsconfig.Options{
		CAFile:   certPath + "/ca.pem",
		CertFile: certPath + "/cert.pem",
		KeyFile:  certPath + "/key.pem",
	}
	tlsConf, err := tlsconfig.Client(options)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsConf,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

