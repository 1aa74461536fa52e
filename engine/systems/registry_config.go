package systems

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

type RegistryConfig struct {
	/** @brief Cache raw handles per name. When off every apply reads the handle from the resource. */
	EnableCaching bool `toml:"enable_caching"`
	/** @brief Soft cap of the handle cache. */
	MaxCacheSize int `toml:"max_cache_size"`
	/** @brief Maximum instances per transient pool. */
	MaxPoolSize int           `toml:"max_pool_size"`
	CacheMaxAge core.Duration `toml:"cache_max_age"`

	/** @brief Group pending updates into prioritized batches. */
	EnableBatching bool   `toml:"enable_batching"`
	MaxBatchSize   int    `toml:"max_batch_size"`
	MaxBatchDelay  uint64 `toml:"max_batch_delay"`
	/** @brief Update priority per resource kind name (e.g. "UniformBuffer" = "High"). */
	KindPriorities map[string]metadata.UpdatePriority `toml:"kind_priorities"`

	EnableFrameInFlight bool   `toml:"enable_frame_in_flight"`
	FramesInFlight      uint32 `toml:"frames_in_flight"`

	UseSetPriority bool   `toml:"use_set_priority"`
	AutoAssignSets bool   `toml:"auto_assign_sets"`
	StartSet       uint32 `toml:"start_set"`
	EndSet         uint32 `toml:"end_set"`

	EnableDefaultResources  bool `toml:"enable_default_resources"`
	CreateSystemDefaults    bool `toml:"create_system_defaults"`
	AutoDetectShaderPattern bool `toml:"auto_detect_shader_pattern"`

	EnableValidation   bool `toml:"enable_validation"`
	RealtimeValidation bool `toml:"realtime_validation"`
	/** @brief Issues below this severity are not reported. */
	SeverityFilter metadata.Severity `toml:"severity_filter"`
	/** @brief Bindings not accessed for longer than this are reported as stale. */
	StaleAge core.Duration `toml:"stale_age"`

	/** @brief Use direct state access paths when the backend offers them. */
	EnableDSA            bool                 `toml:"enable_dsa"`
	CachePolicy          CachePolicy          `toml:"cache_policy"`
	InvalidationStrategy InvalidationStrategy `toml:"invalidation_strategy"`
	/** @brief Use the process-wide binding state cache instead of a private one. */
	SharedStateCache bool `toml:"shared_state_cache"`
	/** @brief K of the frame based strategy. */
	FrameAgeLimit uint64 `toml:"frame_age_limit"`
	/** @brief Frames between GPU state validations. 0 uses the cache policy default. */
	ValidationInterval uint64 `toml:"validation_interval"`
	/** @brief Frames without a bind after which an active binding becomes stale. */
	StaleThreshold uint64 `toml:"stale_threshold"`

	AllowTemplateCreation bool `toml:"allow_template_creation"`
	AllowCloning          bool `toml:"allow_cloning"`
}

func DefaultRegistryConfig() *RegistryConfig {
	kp := map[string]metadata.UpdatePriority{}
	for k, p := range DefaultKindPriorities() {
		kp[k.String()] = p
	}
	return &RegistryConfig{
		EnableCaching:           true,
		MaxCacheSize:            256,
		MaxPoolSize:             16,
		CacheMaxAge:             core.Duration(30 * time.Second),
		EnableBatching:          false,
		MaxBatchSize:            32,
		MaxBatchDelay:           8,
		KindPriorities:          kp,
		EnableFrameInFlight:     false,
		FramesInFlight:          3,
		UseSetPriority:          true,
		AutoAssignSets:          true,
		StartSet:                0,
		EndSet:                  7,
		EnableDefaultResources:  false,
		CreateSystemDefaults:    false,
		AutoDetectShaderPattern: false,
		EnableValidation:        true,
		RealtimeValidation:      false,
		SeverityFilter:          metadata.SeverityInfo,
		StaleAge:                core.Duration(10 * time.Second),
		EnableDSA:               true,
		CachePolicy:             CachePolicyBalanced,
		InvalidationStrategy:    InvalidationStrategyImmediate,
		SharedStateCache:        false,
		FrameAgeLimit:           120,
		ValidationInterval:      0,
		StaleThreshold:          60,
		AllowTemplateCreation:   true,
		AllowCloning:            true,
	}
}

// Validate checks the option ranges.
func (c *RegistryConfig) Validate() error {
	if c.EnableFrameInFlight && c.FramesInFlight == 0 {
		return fmt.Errorf("registry config: frames_in_flight must be > 0 when frame in flight is enabled")
	}
	if c.EndSet < c.StartSet {
		return fmt.Errorf("registry config: end_set %d is lower than start_set %d", c.EndSet, c.StartSet)
	}
	if c.EnableBatching && c.MaxBatchSize <= 0 {
		return fmt.Errorf("registry config: max_batch_size must be > 0 when batching is enabled")
	}
	if c.MaxCacheSize < 0 || c.MaxPoolSize < 0 {
		return fmt.Errorf("registry config: cache and pool sizes must not be negative")
	}
	_, err := c.kindPriorities()
	return err
}

func (c *RegistryConfig) kindPriorities() (map[metadata.ResourceKind]metadata.UpdatePriority, error) {
	out := DefaultKindPriorities()
	for name, p := range c.KindPriorities {
		k, err := metadata.ResourceKindFromString(name)
		if err != nil {
			return nil, fmt.Errorf("registry config: kind_priorities: %w", err)
		}
		out[k.Element()] = p
	}
	return out, nil
}

func (c *RegistryConfig) stateCacheConfig() BindingStateCacheConfig {
	sc := DefaultBindingStateCacheConfig()
	sc.Policy = c.CachePolicy
	sc.Strategy = c.InvalidationStrategy
	if c.FrameAgeLimit > 0 {
		sc.FrameAgeLimit = c.FrameAgeLimit
	}
	sc.MaxAge = c.CacheMaxAge.Std()
	sc.ValidationInterval = c.ValidationInterval
	return sc
}

func (p CachePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *CachePolicy) UnmarshalText(text []byte) error {
	v, err := CachePolicyFromString(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (s InvalidationStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *InvalidationStrategy) UnmarshalText(text []byte) error {
	v, err := InvalidationStrategyFromString(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
