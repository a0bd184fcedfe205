package monitor

import (
	"testing"

	"github.com/docker/docker/api/types/swarm"
)

func TestReplicasOrDefault(t *testing.T) {
	cases := []struct {
		in   uint64
		want uint64
	}{
		{in: 0, want: 1},
		{in: 3, want: 3},
	}
	for _, c := range cases {
		if got := replicasOrDefault(c.in); got != c.want {
			t.Errorf("replicasOrDefault(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPortNumbers(t *testing.T) {
	ports := []swarm.PortConfig{
		{PublishedPort: 80},
		{PublishedPort: 443},
	}
	got := portNumbers(ports)
	want := []int{80, 443}
	if len(got) != len(want) {
		t.Fatalf("portNumbers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("portNumbers()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRestorePorts(t *testing.T) {
	spec := restorePorts([]int{80, 443})
	if len(spec.Ports) != 2 {
		t.Fatalf("restorePorts() = %d ports, want 2", len(spec.Ports))
	}
	if spec.Ports[0].PublishedPort != 80 || spec.Ports[0].Protocol != swarm.PortConfigProtocolTCP {
		t.Errorf("restorePorts()[0] = %+v, want published=80 protocol=tcp", spec.Ports[0])
	}
}

func TestSetReplicas(t *testing.T) {
	spec := &swarm.ServiceSpec{}
	setReplicas(spec, 3)
	if spec.Mode.Replicated == nil || *spec.Mode.Replicated.Replicas != 3 {
		t.Fatalf("setReplicas() did not set Mode.Replicated.Replicas to 3")
	}
}
