// Package inventory implements the upstream-inventory-API client (§4.1,
// §6). The upstream product is modeled as Docker-Engine-API-compatible:
// every endpoint is reached through a docker/docker client pointed at that
// endpoint's daemon socket or TCP address, mirroring how a Portainer-style
// management layer itself talks to the engines it fronts.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fleetsentry/sentinel/internal/circuit"
	"github.com/fleetsentry/sentinel/internal/models"
)

// Client is the capability interface the monitoring cycle and the
// remediation executor depend on. Passing this as an interface (rather
// than the concrete struct) lets tests substitute a fake without a real
// daemon.
type Client interface {
	GetEndpoints(ctx context.Context) ([]models.Endpoint, error)
	GetContainers(ctx context.Context, endpointID int) ([]models.Container, error)
	GetImages(ctx context.Context, endpointID int) ([]image.Summary, error)
	CreateContainer(ctx context.Context, endpointID int, name string, cfg container.Config) (string, error)
	StartContainer(ctx context.Context, endpointID int, containerID string) error
	StopContainer(ctx context.Context, endpointID int, containerID string) error
	RestartContainer(ctx context.Context, endpointID int, containerID string) error
	RemoveContainer(ctx context.Context, endpointID int, containerID string) error
	CreateExec(ctx context.Context, endpointID int, containerID string, cmd []string) (string, error)
	StartExec(ctx context.Context, endpointID int, execID string) error
	InspectExec(ctx context.Context, endpointID int, execID string) (container.ExecInspect, error)
	GetArchive(ctx context.Context, endpointID int, containerID, path string) ([]byte, error)

	IsCircuitOpen(endpointID int) bool
	IsEndpointDegraded(endpointID int) bool

	// CreateEdgeJob enqueues a deferred command for an edge endpoint; the
	// remote agent is expected to poll for it rather than receive a
	// synchronous call (glossary: "Edge endpoint").
	CreateEdgeJob(endpointID int, command string) EdgeJob
	GetEdgeJobTasks(jobID string) ([]EdgeJobTask, error)
	GetEdgeJobTaskLogs(jobID, taskID string) ([]string, error)
}

// EndpointRegistration is operator-supplied configuration (§6 settings),
// not network auto-discovery: an endpoint is added by registering its
// Docker-Engine-API address.
type EndpointRegistration struct {
	ID      int
	Name    string
	Host    string // e.g. "unix:///var/run/docker.sock" or "tcp://10.0.0.5:2376"
	Edge    bool
	TLSCert string
	TLSKey  string
	TLSCA   string

	// OAuth2 client-credentials config for endpoints that sit behind an
	// OAuth gateway instead of accepting mutual TLS directly. Leave
	// TokenURL empty to skip OAuth2 and use TLSCert/TLSKey/TLSCA (or a
	// bare socket) as before.
	OAuth2ClientID     string
	OAuth2ClientSecret string
	OAuth2TokenURL     string
	OAuth2Scopes       []string
}

// dockerClient implements Client over the real docker/docker/client SDK,
// keeping one engine client per registered endpoint.
type dockerClient struct {
	breakers *circuit.Registry
	engines  map[int]*client.Client
	names    map[int]string
	edgeJobs *EdgeJobQueue
}

// NewClient builds an inventory client for the given endpoint
// registrations, wiring one docker/docker engine client per endpoint and a
// shared circuit breaker registry.
func NewClient(endpoints []EndpointRegistration, breakerCfg circuit.Config) (Client, error) {
	c := &dockerClient{
		breakers: circuit.NewRegistry(breakerCfg),
		engines:  make(map[int]*client.Client),
		names:    make(map[int]string),
		edgeJobs: NewEdgeJobQueue(),
	}

	for _, ep := range endpoints {
		opts := []client.Opt{
			client.WithHost(ep.Host),
			client.WithAPIVersionNegotiation(),
		}
		if ep.TLSCert != "" && ep.TLSKey != "" {
			opts = append(opts, client.WithTLSClientConfig(ep.TLSCA, ep.TLSCert, ep.TLSKey))
		}
		if ep.OAuth2TokenURL != "" {
			oauthCfg := clientcredentials.Config{
				ClientID:     ep.OAuth2ClientID,
				ClientSecret: ep.OAuth2ClientSecret,
				TokenURL:     ep.OAuth2TokenURL,
				Scopes:       ep.OAuth2Scopes,
			}
			opts = append(opts, client.WithHTTPClient(oauthCfg.Client(context.Background())))
		}
		cli, err := client.NewClientWithOpts(opts...)
		if err != nil {
			return nil, fmt.Errorf("inventory: endpoint %d (%s): %w", ep.ID, ep.Name, err)
		}
		c.engines[ep.ID] = cli
		c.names[ep.ID] = ep.Name
	}

	return c, nil
}

func (c *dockerClient) engine(endpointID int) (*client.Client, error) {
	cli, ok := c.engines[endpointID]
	if !ok {
		return nil, fmt.Errorf("inventory: unknown endpoint %d", endpointID)
	}
	return cli, nil
}

// call wraps every engine round trip with the per-endpoint breaker: it
// checks Allow before the call and records the timed result afterward, so
// every operation in §4.1 shares the same failure-isolation path.
func (c *dockerClient) call(ctx context.Context, endpointID int, op func(cli *client.Client) error) error {
	if err := c.breakers.Allow(endpointID); err != nil {
		return err
	}
	cli, err := c.engine(endpointID)
	if err != nil {
		return err
	}

	start := time.Now()
	err = op(cli)
	c.breakers.RecordResult(endpointID, time.Since(start), err)
	return err
}

func (c *dockerClient) IsCircuitOpen(endpointID int) bool     { return c.breakers.IsCircuitOpen(endpointID) }
func (c *dockerClient) IsEndpointDegraded(endpointID int) bool { return c.breakers.IsEndpointDegraded(endpointID) }

func (c *dockerClient) CreateEdgeJob(endpointID int, command string) EdgeJob {
	return c.edgeJobs.CreateEdgeJob(endpointID, command)
}

func (c *dockerClient) GetEdgeJobTasks(jobID string) ([]EdgeJobTask, error) {
	return c.edgeJobs.GetEdgeJobTasks(jobID)
}

func (c *dockerClient) GetEdgeJobTaskLogs(jobID, taskID string) ([]string, error) {
	return c.edgeJobs.GetEdgeJobTaskLogs(jobID, taskID)
}

func (c *dockerClient) GetEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	out := make([]models.Endpoint, 0, len(c.engines))
	for id, name := range c.names {
		status := models.EndpointUp
		if c.breakers.IsCircuitOpen(id) {
			status = models.EndpointDown
		}
		ep := models.Endpoint{
			ID:     id,
			Name:   name,
			Status: status,
			Capabilities: models.EndpointCapabilities{
				LiveStats:    true,
				RealtimeLogs: true,
				Exec:         true,
			},
		}
		containers, err := c.GetContainers(ctx, id)
		if err == nil {
			tallyContainers(&ep, containers)
		}
		out = append(out, ep)
	}
	return out, nil
}

func tallyContainers(ep *models.Endpoint, containers []models.Container) {
	for _, ctr := range containers {
		switch ctr.State {
		case models.ContainerRunning:
			ep.ContainersRunning++
			if ctr.HealthStatus == "" || ctr.HealthStatus == "healthy" {
				ep.ContainersHealthy++
			} else {
				ep.ContainersUnhealthy++
			}
		default:
			ep.ContainersStopped++
		}
	}
}

func (c *dockerClient) GetContainers(ctx context.Context, endpointID int) ([]models.Container, error) {
	var raw []container.Summary
	err := c.call(ctx, endpointID, func(cli *client.Client) error {
		list, err := cli.ContainerList(ctx, container.ListOptions{All: true})
		if err != nil {
			return err
		}
		raw = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	name := c.names[endpointID]
	out := make([]models.Container, 0, len(raw))
	for _, r := range raw {
		out = append(out, normalizeContainer(r, endpointID, name))
	}
	return out, nil
}

func normalizeContainer(r container.Summary, endpointID int, endpointName string) models.Container {
	ctr := models.Container{
		ID:           r.ID,
		EndpointID:   endpointID,
		EndpointName: endpointName,
		Name:         firstName(r.Names),
		Image:        r.Image,
		State:        normalizeState(r.State),
		Labels:       r.Labels,
	}

	for _, p := range r.Ports {
		ctr.Ports = append(ctr.Ports, models.PortMapping{
			PrivatePort: int(p.PrivatePort),
			PublicPort:  int(p.PublicPort),
			Protocol:    p.Type,
			IP:          p.IP,
		})
	}

	if r.NetworkSettings != nil {
		for netName, settings := range r.NetworkSettings.Networks {
			ctr.Networks = append(ctr.Networks, models.NetworkAttachment{
				Name:       netName,
				IPAddress:  settings.IPAddress,
				MacAddress: settings.MacAddress,
			})
		}
	}

	return ctr
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	n := names[0]
	if len(n) > 0 && n[0] == '/' {
		return n[1:]
	}
	return n
}

func normalizeState(s string) models.ContainerState {
	switch s {
	case "running":
		return models.ContainerRunning
	case "exited", "created":
		return models.ContainerStopped
	case "paused":
		return models.ContainerPaused
	case "dead":
		return models.ContainerDead
	default:
		return models.ContainerUnknown
	}
}

func (c *dockerClient) GetImages(ctx context.Context, endpointID int) ([]image.Summary, error) {
	var out []image.Summary
	err := c.call(ctx, endpointID, func(cli *client.Client) error {
		list, err := cli.ImageList(ctx, image.ListOptions{})
		if err != nil {
			return err
		}
		out = list
		return nil
	})
	return out, err
}

func (c *dockerClient) CreateContainer(ctx context.Context, endpointID int, name string, cfg container.Config) (string, error) {
	var id string
	err := c.call(ctx, endpointID, func(cli *client.Client) error {
		resp, err := cli.ContainerCreate(ctx, &cfg, nil, nil, nil, name)
		if err != nil {
			return err
		}
		id = resp.ID
		return nil
	})
	return id, err
}

func (c *dockerClient) StartContainer(ctx context.Context, endpointID int, containerID string) error {
	return c.call(ctx, endpointID, func(cli *client.Client) error {
		return cli.ContainerStart(ctx, containerID, container.StartOptions{})
	})
}

func (c *dockerClient) StopContainer(ctx context.Context, endpointID int, containerID string) error {
	return c.call(ctx, endpointID, func(cli *client.Client) error {
		return cli.ContainerStop(ctx, containerID, container.StopOptions{})
	})
}

func (c *dockerClient) RestartContainer(ctx context.Context, endpointID int, containerID string) error {
	return c.call(ctx, endpointID, func(cli *client.Client) error {
		return cli.ContainerRestart(ctx, containerID, container.StopOptions{})
	})
}

func (c *dockerClient) RemoveContainer(ctx context.Context, endpointID int, containerID string) error {
	return c.call(ctx, endpointID, func(cli *client.Client) error {
		return cli.ContainerRemove(ctx, containerID, container.RemoveOptions{})
	})
}

func (c *dockerClient) CreateExec(ctx context.Context, endpointID int, containerID string, cmd []string) (string, error) {
	var id string
	err := c.call(ctx, endpointID, func(cli *client.Client) error {
		resp, err := cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
			Cmd:          cmd,
			AttachStdout: true,
			AttachStderr: true,
		})
		if err != nil {
			return err
		}
		id = resp.ID
		return nil
	})
	return id, err
}

func (c *dockerClient) StartExec(ctx context.Context, endpointID int, execID string) error {
	return c.call(ctx, endpointID, func(cli *client.Client) error {
		return cli.ContainerExecStart(ctx, execID, container.ExecStartOptions{})
	})
}

func (c *dockerClient) InspectExec(ctx context.Context, endpointID int, execID string) (container.ExecInspect, error) {
	var out container.ExecInspect
	err := c.call(ctx, endpointID, func(cli *client.Client) error {
		inspect, err := cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return err
		}
		out = inspect
		return nil
	})
	return out, err
}

func (c *dockerClient) GetArchive(ctx context.Context, endpointID int, containerID, path string) ([]byte, error) {
	var data []byte
	err := c.call(ctx, endpointID, func(cli *client.Client) error {
		reader, _, err := cli.CopyFromContainer(ctx, containerID, path)
		if err != nil {
			return err
		}
		defer reader.Close()
		buf := make([]byte, 0, 4096)
		chunk := make([]byte, 4096)
		for {
			n, rerr := reader.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if rerr != nil {
				break
			}
		}
		data = buf
		return nil
	})
	return data, err
}
