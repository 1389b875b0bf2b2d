package main

import (
	"log/slog"

	"github.com/canops/go-pcan-gateway/internal/stream"
)

func initHub(cfg *appConfig, l *slog.Logger) *stream.Hub {
	h := stream.NewHub()
	h.OutBufSize = cfg.hubBuffer
	switch cfg.hubPolicy {
	case "drop":
		h.Policy = stream.PolicyDrop
	case "kick":
		h.Policy = stream.PolicyKick
	default:
		l.Warn("unknown_hub_policy", "policy", cfg.hubPolicy, "used", "drop")
		h.Policy = stream.PolicyDrop
	}
	policyStr := map[stream.BackpressurePolicy]string{stream.PolicyDrop: "drop", stream.PolicyKick: "kick"}[h.Policy]
	l.Info("hub_config", "policy", policyStr, "buffer", h.OutBufSize)
	return h
}
