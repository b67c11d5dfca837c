package datalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// csvHeader is the export column order.
var csvHeader = []string{
	"timestamp_s", "setpoint", "pv", "pid_output", "p", "i", "d",
	"temp0", "temp1", "temp2", "temp3",
	"relay_bitmask", "servo_angle", "running",
}

// WriteCSV streams the buffered records as CSV.
func (l *Logger) WriteCSV(w io.Writer) error {
	points := l.Points()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(csvHeader))
	for _, p := range points {
		row[0] = strconv.FormatFloat(p.TimestampS, 'f', 3, 64)
		row[1] = strconv.FormatFloat(p.Setpoint, 'f', 2, 64)
		row[2] = strconv.FormatFloat(p.PV, 'f', 2, 64)
		row[3] = strconv.FormatFloat(p.PIDOutput, 'f', 2, 64)
		row[4] = strconv.FormatFloat(p.P, 'f', 3, 64)
		row[5] = strconv.FormatFloat(p.I, 'f', 3, 64)
		row[6] = strconv.FormatFloat(p.D, 'f', 3, 64)
		for i, t := range p.Temps {
			row[7+i] = strconv.FormatFloat(t, 'f', 2, 64)
		}
		row[11] = strconv.Itoa(int(p.RelayBitmask))
		row[12] = strconv.FormatFloat(p.ServoAngle, 'f', 1, 64)
		row[13] = strconv.FormatBool(p.Running)

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
