package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/config"
	"github.com/franckalain/fruitbeast/internal/database"
	"github.com/franckalain/fruitbeast/internal/logging"
	"github.com/franckalain/fruitbeast/internal/ml"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *zap.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			c.configErr = fmt.Errorf("failed to load configuration: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) log() *zap.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.New(c.config.Logging)
		if err != nil {
			logger = zap.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) openDB(ctx context.Context) (database.DB, error) {
	db, err := database.Open(ctx, c.config.Database, c.log())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func (c *commandContext) openModel(ctx context.Context) (ml.Model, error) {
	model, err := ml.NewModel(c.config.ML, c.log())
	if err != nil {
		return nil, fmt.Errorf("failed to create ML model: %w", err)
	}
	if err := model.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load ML model: %w", err)
	}
	return model, nil
}
