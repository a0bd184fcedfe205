package orchestrator

import (
	"strconv"
	"time"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/swarm"

	"github.com/zaneops/compose-core/internal/domain"
)

// BuildServiceSpec converts one compiled domain.ServiceSpec into the
// swarm.ServiceSpec the Engine API expects, the way the teacher's
// BuildContainerConfig converts a Container resource into
// container.Config/HostConfig/NetworkingConfig: one small helper per
// concern (env, mounts, ports, networks, policy).
func BuildServiceSpec(svc *domain.ServiceSpec, stackID string, configIDs map[string]string) swarm.ServiceSpec {
	labels := make(map[string]string, len(svc.Deploy.Labels)+1)
	for k, v := range svc.Deploy.Labels {
		labels[k] = v
	}
	labels[StackLabel] = stackID

	return swarm.ServiceSpec{
		Annotations: swarm.Annotations{Name: svc.Name, Labels: labels},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: &swarm.ContainerSpec{
				Image:   svc.Image,
				Command: svc.Command,
				Env:     buildEnv(svc.Environment),
				Labels:  labels,
				Mounts:  buildMounts(svc.Volumes),
				Configs: buildConfigReferences(svc.ConfigMounts, configIDs),
				Hostname: svc.Hostname,
				User:     svc.User,
				Dir:      svc.WorkingDir,
			},
			Networks:      buildNetworkAttachments(svc.Networks),
			RestartPolicy: buildRestartPolicy(svc.Deploy.RestartPolicy),
			LogDriver:     buildLogDriver(svc.Logging),
		},
		Mode:         buildServiceMode(svc.Deploy),
		UpdateConfig: buildUpdateConfig(svc.Deploy.UpdateConfig),
		EndpointSpec: &swarm.EndpointSpec{Ports: buildPortConfiguration(svc.Ports)},
	}
}

func buildEnv(env map[string]*string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		if v == nil {
			out = append(out, k)
			continue
		}
		out = append(out, k+"="+*v)
	}
	return out
}

func buildMounts(volumes []domain.ServiceVolume) []mount.Mount {
	out := make([]mount.Mount, 0, len(volumes))
	for _, v := range volumes {
		typ := mount.TypeVolume
		if v.Type == "bind" {
			typ = mount.TypeBind
		}
		out = append(out, mount.Mount{
			Type:     typ,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}
	return out
}

// buildConfigReferences wires each service's top-level config mounts to the
// Swarm config object created for it; a mount whose source has no entry in
// configIDs (an external config this activity never created) is skipped and
// left for the operator to have provisioned out of band.
func buildConfigReferences(mounts []domain.ConfigMount, configIDs map[string]string) []*swarm.ConfigReference {
	out := make([]*swarm.ConfigReference, 0, len(mounts))
	for _, m := range mounts {
		id, ok := configIDs[m.Source]
		if !ok {
			continue
		}
		out = append(out, &swarm.ConfigReference{
			ConfigID:   id,
			ConfigName: m.Source,
			File: &swarm.ConfigReferenceFileTarget{
				Name: m.Target,
				UID:  "0",
				GID:  "0",
				Mode: 0o444,
			},
		})
	}
	return out
}

func buildPortConfiguration(ports []domain.PortSpec) []swarm.PortConfig {
	out := make([]swarm.PortConfig, 0, len(ports))
	for _, p := range ports {
		proto := swarm.PortConfigProtocolTCP
		if p.Protocol == "udp" {
			proto = swarm.PortConfigProtocolUDP
		}
		out = append(out, swarm.PortConfig{
			Protocol:      proto,
			TargetPort:    uint32(p.Target),
			PublishedPort: uint32(p.Published),
			PublishMode:   swarm.PortConfigPublishModeIngress,
		})
	}
	return out
}

func buildNetworkAttachments(networks map[string]*domain.ServiceNetwork) []swarm.NetworkAttachmentConfig {
	out := make([]swarm.NetworkAttachmentConfig, 0, len(networks))
	for name, n := range networks {
		out = append(out, swarm.NetworkAttachmentConfig{
			Target:  name,
			Aliases: n.Aliases,
		})
	}
	return out
}

func buildServiceMode(deploy domain.DeploySpec) swarm.ServiceMode {
	if deploy.Mode == "global" {
		return swarm.ServiceMode{Global: &swarm.GlobalService{}}
	}
	replicas := uint64(1)
	if deploy.Replicas != nil {
		replicas = uint64(*deploy.Replicas)
	}
	return swarm.ServiceMode{Replicated: &swarm.ReplicatedService{Replicas: &replicas}}
}

func buildRestartPolicy(rp map[string]any) *swarm.RestartPolicy {
	if rp == nil {
		return nil
	}
	cond, _ := rp["condition"].(string)
	if cond == "" {
		return nil
	}
	return &swarm.RestartPolicy{Condition: swarm.RestartPolicyCondition(cond)}
}

func buildUpdateConfig(uc map[string]any) *swarm.UpdateConfig {
	if uc == nil {
		return nil
	}
	out := &swarm.UpdateConfig{}
	if p := toInt(uc["parallelism"]); p > 0 {
		out.Parallelism = uint64(p)
	}
	if d, ok := uc["delay"].(string); ok {
		if dur, err := time.ParseDuration(d); err == nil {
			out.Delay = dur
		}
	}
	if order, ok := uc["order"].(string); ok {
		out.Order = order
	}
	if fa, ok := uc["failure_action"].(string); ok {
		out.FailureAction = fa
	}
	return out
}

func buildLogDriver(l *domain.LoggingSpec) *swarm.Driver {
	if l == nil {
		return nil
	}
	return &swarm.Driver{Name: l.Driver, Options: l.Options}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}
