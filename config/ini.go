package config

import (
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// LoadFile overrides the given base config with values found in an INI
// file, so a host can ship a modbee.ini alongside the binary instead of
// recompiling. Grounded on the teacher's EDS-via-ini loader (od_parser.go):
// a single [timing] section with flat ms/us keys, missing keys silently
// keep the base default.
func LoadFile(base Config, filePath string) (Config, error) {
	cfg := base
	file, err := ini.Load(filePath)
	if err != nil {
		return base, err
	}
	section := file.Section("timing")

	readMs := func(key string, dst *time.Duration) {
		k := section.Key(key)
		if k.Value() == "" {
			return
		}
		v, err := k.Int()
		if err != nil {
			log.Warnf("[CONFIG] ignoring invalid key %s=%s", key, k.Value())
			return
		}
		*dst = time.Duration(v) * time.Millisecond
	}
	readUs := func(key string, dst *time.Duration) {
		k := section.Key(key)
		if k.Value() == "" {
			return
		}
		v, err := k.Int()
		if err != nil {
			log.Warnf("[CONFIG] ignoring invalid key %s=%s", key, k.Value())
			return
		}
		*dst = time.Duration(v) * time.Microsecond
	}

	readUs("interframe_gap_us", &cfg.InterframeGap)
	readMs("operation_timeout_ms", &cfg.OperationTimeout)
	readMs("response_timeout_ms", &cfg.ResponseTimeout)
	readMs("retry_delay_ms", &cfg.RetryDelay)
	readMs("initial_listen_period_ms", &cfg.InitialListenBase)
	readMs("token_response_timeout_ms", &cfg.TokenResponseTime)
	readMs("base_timeout_ms", &cfg.BaseTimeout)
	readMs("node_timeout_ms", &cfg.NodeTimeout)
	readMs("token_reclaim_timeout_ms", &cfg.TokenReclaimBase)
	readMs("join_cycle_interval_ms", &cfg.JoinCycleInterval)
	readMs("join_response_timeout_ms", &cfg.JoinResponseWindow)

	if v, err := section.Key("max_retries").Int(); err == nil && section.Key("max_retries").Value() != "" {
		cfg.MaxRetries = v
	}
	if v, err := section.Key("max_nodes").Int(); err == nil && section.Key("max_nodes").Value() != "" {
		cfg.MaxNodes = v
	}
	if v, err := section.Key("enable_failsafe").Bool(); err == nil && section.Key("enable_failsafe").Value() != "" {
		cfg.EnableFailSafe = v
	}

	log.Infof("[CONFIG] loaded timing overrides from %s", filePath)
	return cfg, nil
}
