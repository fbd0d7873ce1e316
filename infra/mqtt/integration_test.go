//go:build integration

package mqtt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/shopsched/core/events"
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
`

func startMosquitto(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mosquitto.conf")
	if err := os.WriteFile(path, []byte(mosquittoConf), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "1883/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

func TestConflictRoundTripThroughBroker(t *testing.T) {
	broker := startMosquitto(t)

	cfg := Config{Enabled: true, Broker: broker, QoS: map[string]byte{"conflict": 1, "report": 1}}
	cfg.SetDefaults()
	sub, err := NewPahoClient(cfg)
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Disconnect()

	got := make(chan Message, 4)
	if err := sub.Subscribe(cfg.TopicPrefix+"/conflicts/#", func(topic string, payload []byte) {
		got <- Message{Topic: topic, Payload: payload}
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pubCfg := cfg
	pubCfg.ClientID = ""
	pubCfg.SetDefaults()
	pub, err := NewPahoClient(pubCfg)
	if err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer pub.Disconnect()

	n := NewConflictNotifier(pub, cfg.TopicPrefix, nil, nil)
	ev := conflictEvent()
	ev.Conflicts = ev.Conflicts[:1]
	ev.Kind = events.KindReplanned
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case m := <-got:
		if m.Topic != cfg.TopicPrefix+"/conflicts/M2" {
			t.Fatalf("unexpected topic %s", m.Topic)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("conflict message not received")
	}
}
