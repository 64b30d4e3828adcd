package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/afladry360/telemetry/internal/logging"
	sensorSimulator "github.com/afladry360/telemetry/internal/sensor-simulator"
	"github.com/afladry360/telemetry/pkg/broker"
)

var flags struct {
	brokerURL      string
	username       string
	password       string
	app            string
	deviceID       string
	interval       time.Duration
	heartbeat      time.Duration
	malformedEvery int
	qos            int
	seed           int64
}

var rootCmd = &cobra.Command{
	Use:   "sensor-sim",
	Short: "Publish simulated dryer telemetry over MQTT",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.Default()
		conn, err := broker.NewConn(cmd.Context(), broker.Config{
			Broker:   flags.brokerURL,
			Username: flags.username,
			Password: flags.password,
			ClientID: "sim-" + flags.deviceID,
		}, log)
		if err != nil {
			return err
		}
		defer conn.Close(250 * time.Millisecond)

		qos := byte(flags.qos)
		sensor := broker.NewPublisher(conn.Client(), flags.app+"/sensor_data", qos)
		status := broker.NewPublisher(conn.Client(), flags.app+"/status", qos)

		sim := sensorSimulator.NewSensorSimulator(sensor, status, sensorSimulator.NewDataGenerator(flags.seed), sensorSimulator.Options{
			DeviceID:       flags.deviceID,
			Interval:       flags.interval,
			Heartbeat:      flags.heartbeat,
			MalformedEvery: flags.malformedEvery,
			Logger:         log,
		})
		log.Infof("[Simulator] %s publishing every %s to %s", flags.deviceID, flags.interval, sensor.Topic())
		sim.Start(cmd.Context())
		return nil
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.brokerURL, "broker", "tcp://localhost:1883", "MQTT broker URL")
	f.StringVar(&flags.username, "username", "", "MQTT username (empty for anonymous)")
	f.StringVar(&flags.password, "password", "", "MQTT password")
	f.StringVar(&flags.app, "app", "AflaDry360", "topic prefix")
	f.StringVar(&flags.deviceID, "device-id", "AflaDry360_ESP8266", "simulated device identifier")
	f.DurationVar(&flags.interval, "interval", 10*time.Second, "reading publish interval")
	f.DurationVar(&flags.heartbeat, "heartbeat", time.Minute, "heartbeat interval (0 disables)")
	f.IntVar(&flags.malformedEvery, "malformed-every", 0, "replace every Nth reading with a malformed payload (0 disables)")
	f.IntVar(&flags.qos, "qos", 1, "MQTT QoS")
	f.Int64Var(&flags.seed, "seed", time.Now().UnixNano(), "random seed")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
