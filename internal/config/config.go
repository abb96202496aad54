package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8090" validate:"min=1000,max=65535"`

	// Directory with the static client bundle served at "/".
	ClientDir string `env:"CLIENT_DIR" envDefault:"public"`

	// How long an empty room is kept around for quick reconnects before the
	// deferred delete fires.
	EmptyRoomDelay time.Duration `env:"EMPTY_ROOM_DELETE_DELAY" envDefault:"60s"`

	// Age thresholds for the periodic sweeps.
	RoomInactiveMaxAge time.Duration `env:"ROOM_INACTIVE_MAX_AGE" envDefault:"1h"`
	CanvasStateMaxAge  time.Duration `env:"CANVAS_STATE_MAX_AGE"  envDefault:"24h"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL"        envDefault:"5m"`

	// Max size of a single inbound WS frame (canvas snapshots travel as data
	// URLs and can get large).
	WsReadLimit int64 `env:"WS_READ_LIMIT" envDefault:"4194304" validate:"min=512"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
