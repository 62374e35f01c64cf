package daqkit

import (
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

const defaultInfluxMeasurement = "daq"

// InfluxOutput forwards every published snapshot to an InfluxDB bucket.
// Writes go through the non-blocking write API so a slow or unreachable
// database never stalls the poll loop.
type InfluxOutput struct {
	Host         string
	Token        string
	Organization string
	Bucket       string
	Measurement  string

	client   influxdb2.Client
	writeApi api.WriteAPI
}

func (inf *InfluxOutput) Init() error {
	if inf.Host == "" {
		return errors.New("influx output needs a host")
	}
	if inf.Measurement == "" {
		inf.Measurement = defaultInfluxMeasurement
	}

	inf.client = influxdb2.NewClient(inf.Host, inf.Token)
	inf.writeApi = inf.client.WriteAPI(inf.Organization, inf.Bucket)
	return nil
}

// Publish writes one point per snapshot: a field per channel with its
// derived value, plus a <label>_v<i> field per raw input voltage.
func (inf *InfluxOutput) Publish(snapshot Snapshot) {
	if inf.writeApi == nil {
		return
	}

	fields := make(map[string]interface{})
	for label, reading := range snapshot.Readings {
		if reading.Value != nil {
			fields[label] = *reading.Value
		}
		for i, v := range reading.Volts {
			if v != nil {
				fields[label+"_v"+strconv.Itoa(i)] = *v
			}
		}
	}
	if len(fields) == 0 {
		return
	}

	point := influxdb2.NewPoint(inf.Measurement, nil, fields, snapshot.Timestamp)
	inf.writeApi.WritePoint(point)
}

func (inf *InfluxOutput) Close() {
	if inf.client != nil {
		inf.writeApi.Flush()
		inf.client.Close()
	}
}
