package config

import (
	"fmt"
	"strconv"
)

// Field is one user-editable setting.
type Field struct {
	Label string
	Key   string
}

// Fields lists the settings in display order. Keys match the JSON names.
var Fields = []Field{
	{"Transport", "transport"},
	{"Serial Port", "serial_port"},
	{"Serial Baud Rate", "serial_baud_rate"},
	{"Address", "address"},
	{"Query Timeout (ms)", "measurement_timeout_ms"},
	{"Query Retries", "measurement_retries"},
	{"Backoff Base (ms)", "backoff_base_ms"},
	{"Settle Delay (ms)", "settle_delay_ms"},
	{"Setup Policy", "setup_policy"},
	{"Export Directory", "export_dir"},
	{"Metrics Address", "metrics_addr"},
}

// Get returns the value of key as text.
func (c Config) Get(key string) (string, error) {
	switch key {
	case "transport":
		return c.Transport, nil
	case "serial_port":
		return c.SerialPort, nil
	case "serial_baud_rate":
		return strconv.Itoa(c.SerialBaudRate), nil
	case "address":
		return c.Address, nil
	case "measurement_timeout_ms":
		return strconv.Itoa(c.MeasurementTimeoutMs), nil
	case "measurement_retries":
		return strconv.Itoa(c.Retries()), nil
	case "backoff_base_ms":
		return strconv.Itoa(c.BackoffBaseMs), nil
	case "settle_delay_ms":
		return strconv.Itoa(c.SettleDelayMs), nil
	case "setup_policy":
		return c.SetupPolicy, nil
	case "export_dir":
		return c.ExportDir, nil
	case "metrics_addr":
		return c.MetricsAddr, nil
	}
	return "", fmt.Errorf("unknown setting %q", key)
}

// Set parses val into key.
func (c *Config) Set(key, val string) error {
	num := func(min int) (int, error) {
		n, err := strconv.Atoi(val)
		if err != nil || n < min {
			return 0, fmt.Errorf("%s must be an integer >= %d", key, min)
		}
		return n, nil
	}

	switch key {
	case "transport":
		switch val {
		case "serial", "tcp", "sim":
		default:
			return fmt.Errorf("transport must be serial, tcp or sim")
		}
		c.Transport = val
	case "serial_port":
		c.SerialPort = val
	case "serial_baud_rate":
		n, err := num(1)
		if err != nil {
			return err
		}
		c.SerialBaudRate = n
	case "address":
		c.Address = val
	case "measurement_timeout_ms":
		n, err := num(1)
		if err != nil {
			return err
		}
		c.MeasurementTimeoutMs = n
	case "measurement_retries":
		n, err := num(0)
		if err != nil {
			return err
		}
		c.MeasurementRetries = &n
	case "backoff_base_ms":
		n, err := num(1)
		if err != nil {
			return err
		}
		c.BackoffBaseMs = n
	case "settle_delay_ms":
		n, err := num(1)
		if err != nil {
			return err
		}
		c.SettleDelayMs = n
	case "setup_policy":
		switch val {
		case "proceed", "fail-fast":
		default:
			return fmt.Errorf("setup_policy must be proceed or fail-fast")
		}
		c.SetupPolicy = val
	case "export_dir":
		c.ExportDir = val
	case "metrics_addr":
		c.MetricsAddr = val
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}
