//go:build integration

package integration_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/couchcryptid/flir-etl-service/internal/thermal"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const kafkaImage = "confluentinc/confluent-local:7.5.0"

var testGeometry = thermal.FrameGeometry{Height: 4, Width: 4, Rotation: 270}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID("flir-etl-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

const scanMetadataJSON = `{
	"gantry_variable_metadata": {
		"datetime": "08/17/2016 12:15:38",
		"position_m": {"x": 10, "y": 20, "z": 1.422}
	},
	"sensor_fixed_metadata": {
		"sensor_id": "flirIrCamera",
		"calibration_R": 16556, "calibration_B": 1428, "calibration_F": 1,
		"calibration_J0": 4000, "calibration_J1": 31, "calibration_X": 1.9,
		"calibration_alpha1": 0.006569, "calibration_alpha2": 0.01262,
		"calibration_beta1": -0.002276, "calibration_beta2": -0.00667
	},
	"sensor_variable_metadata": {
		"emissivity": 0.98, "reflected_temperature": 20, "atmospheric_temperature": 20,
		"relative_humidity": 50, "object_distance": 2
	}
}`

// writeDataset lays out a synthetic FLIR dataset under dir and returns the
// JSON dataset event that announces it.
func writeDataset(t *testing.T, dir, id, name string) []byte {
	t.Helper()
	buf := make([]byte, testGeometry.ByteLen())
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], 8192)
	}
	frame := filepath.Join(dir, name+"_ir.bin")
	require.NoError(t, os.WriteFile(frame, buf, 0o644))
	md := filepath.Join(dir, name+"_metadata.json")
	require.NoError(t, os.WriteFile(md, []byte(scanMetadataJSON), 0o644))

	payload, err := json.Marshal(map[string]any{
		"id":   id,
		"name": name,
		"files": []map[string]string{
			{"filename": filepath.Base(frame), "filepath": frame},
			{"filename": filepath.Base(md), "filepath": md},
		},
	})
	require.NoError(t, err)
	return payload
}
