// Command mechanism_logger records the mechanism server's status stream in
// InfluxDB.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/liric/liric_interface/internal/config"
	"github.com/liric/liric_interface/internal/logging"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

const measurement = "liric.mechanism"

func main() {
	v := config.New()
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configFile := flags.String("config", "", "properties file to read instead of searching for liric.properties")
	flags.String("source", "", "status websocket URL")
	flags.String("influx", "", "InfluxDB server URL")
	flags.StringP("log-level", "l", "", "log level")
	flags.Parse(os.Args[1:])
	for key, name := range map[string]string{
		"logger.source": "source",
		"influx.server": "influx",
		"logging.level": "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Fatal(err)
		}
	}
	cfg, err := config.Load(v, *configFile)
	if err != nil {
		log.Fatal(err)
	}
	if err := logging.Setup(cfg.Logging.Level); err != nil {
		log.Fatal(err)
	}

	client := influxdb2.NewClient(cfg.Influx.Server, cfg.Influx.Token)
	defer client.Close()
	// Non-blocking; failures arrive on Errors.
	writeApi := client.WriteApi(cfg.Influx.Org, cfg.Influx.Bucket)
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			log.WithError(err).Warn("influx write")
		}
	}()
	for {
		if err := logData(writeApi, cfg.Logger.Source); err != nil {
			log.WithError(err).WithField("source", cfg.Logger.Source).Warn("status stream")
		}
		time.Sleep(1 * time.Second)
	}
}

// flattenStatus adds every leaf of status to fields, keyed by its dotted
// path below prefix.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	default:
		if prefix != "" {
			fields[prefix[1:]] = status
		}
	}
}

// statusFields flattens one decoded status message. The returned time is
// the status' own timestamp if it has one, else now.
func statusFields(status interface{}, now time.Time) (map[string]interface{}, time.Time) {
	fields := make(map[string]interface{})
	flattenStatus(fields, status, "")
	t := now
	if s, ok := fields["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t = parsed
		}
		delete(fields, "time")
	}
	return fields, t
}

func logData(writeApi api.WriteApi, url string) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.WithField("source", url).Info("connected")
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields, t := statusFields(status, time.Now())
		// write asynchronously
		writeApi.WritePoint(influxdb2.NewPoint(measurement, nil, fields, t))
	}
}
