package cli

import (
	"context"

	"github.com/pkg/errors"

	"github.com/buckleypaul/cellcycle/internal/config"
	"github.com/buckleypaul/cellcycle/internal/instrument"
)

func noClose() error { return nil }

// Dial opens the link selected by cfg.Transport.
func Dial(ctx context.Context, cfg config.Config) (instrument.Link, func() error, error) {
	switch cfg.Transport {
	case "sim":
		return instrument.NewSimulator(), noClose, nil
	case "tcp":
		if cfg.Address == "" {
			return nil, noClose, errors.New("no instrument address configured, use --addr")
		}
		l, err := instrument.DialTCP(ctx, cfg.Address)
		if err != nil {
			return nil, noClose, err
		}
		return l, l.Close, nil
	case "serial", "":
		if cfg.SerialPort == "" {
			return nil, noClose, errors.New("no serial port configured, use --port (see cellcycle ports)")
		}
		l, err := instrument.OpenSerial(cfg.SerialPort, cfg.SerialBaudRate)
		if err != nil {
			return nil, noClose, err
		}
		return l, l.Close, nil
	}
	return nil, noClose, errors.Errorf("unknown transport %q", cfg.Transport)
}
