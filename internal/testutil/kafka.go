package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

// KafkaFixture wraps a running single-node Kafka testcontainer, used by
// the outbox/broker round-trip tests: the one place in this module
// where a real broker matters more than a fake, since kafka-go's wire
// framing and consumer-group offset commit are exactly what's under
// test.
type KafkaFixture struct {
	Brokers []string
}

// NewKafkaFixture starts a Kafka broker in KRaft mode (no separate
// Zookeeper container) and returns its advertised broker address. The
// container is torn down automatically at test cleanup.
func NewKafkaFixture(t *testing.T) *KafkaFixture {
	t.Helper()
	ctx := context.Background()

	container, err := tckafka.RunContainer(ctx,
		tckafka.WithClusterID("chatcore-test"),
		testcontainers.WithImage("confluentinc/confluent-local:7.5.0"),
	)
	if err != nil {
		t.Fatalf("testutil: start kafka container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("testutil: terminate kafka container: %v", err)
		}
	})

	deadline := time.Now().Add(30 * time.Second)
	var brokers []string
	for {
		brokers, err = container.Brokers(ctx)
		if err == nil && len(brokers) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("testutil: kafka brokers not ready: %v", err)
		}
		time.Sleep(200 * time.Millisecond)
	}

	return &KafkaFixture{Brokers: brokers}
}
