// Package logging builds the zap loggers used across the archiver.
//
// Components take the sugared logger and log with the `Levelw(msg, kv...)`
// functions.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

type Logger = zap.SugaredLogger

const (
	ModeProd = "prod"
	ModeDev  = "dev"
	ModeNop  = "nop"
)

// Modes lists the accepted values for New.
var Modes = []string{ModeProd, ModeDev, ModeNop}

// New returns a logger for mode.
func New(mode string) (*Logger, error) {
	switch mode {
	case ModeProd, "":
		l, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		return l.Sugar(), nil
	case ModeDev:
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return l.Sugar(), nil
	case ModeNop:
		return Nop(), nil
	default:
		return nil, fmt.Errorf("logging: unknown mode %q", mode)
	}
}

func Nop() *Logger { return zap.NewNop().Sugar() }

// Valid reports whether mode is accepted by New.
func Valid(mode string) bool {
	for _, m := range Modes {
		if m == mode {
			return true
		}
	}
	return false
}
