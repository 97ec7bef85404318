package handler

import (
	"go.uber.org/zap"

	"github.com/kenichiro-kimura/thoughtlog/internal/thoughts"
)

type Handler struct {
	Logger  *zap.Logger
	Service *thoughts.Service
}
