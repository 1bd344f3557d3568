package status

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

var collapsePattern = regexp.MustCompile(`[\s-]+`)

// NormalizeRaw canonicalizes an upstream status string before table lookup:
// lowercase, hyphens and runs of whitespace collapsed to single underscores.
func NormalizeRaw(raw string) string {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	return collapsePattern.ReplaceAllString(trimmed, "_")
}

// Normalizer resolves raw per-platform status strings to the canonical set.
type Normalizer struct {
	tables map[models.Platform]map[string]models.DeliveryStatus
}

func NewNormalizer() *Normalizer {
	return &Normalizer{tables: defaultTables()}
}

// tableOverrides is the YAML override file shape:
//
//	platforms:
//	  doordash:
//	    some_new_status: out_for_delivery
type tableOverrides struct {
	Platforms map[string]map[string]string `yaml:"platforms"`
}

// LoadOverrides merges extra raw->canonical rows from a YAML file. Rows for
// unknown platforms or unknown canonical values are skipped with a warning.
func (n *Normalizer) LoadOverrides(path string) error {
	if path == "" {
		return nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	var overrides tableOverrides
	if err := yaml.Unmarshal(content, &overrides); err != nil {
		return fmt.Errorf("parsing status table overrides: %w", err)
	}

	for platformKey, rows := range overrides.Platforms {
		platform, err := models.ParsePlatform(platformKey)
		if err != nil {
			logger.WithPlatform(platformKey).Warn("status override for unknown platform skipped")
			continue
		}
		if n.tables[platform] == nil {
			n.tables[platform] = make(map[string]models.DeliveryStatus)
		}
		for raw, canonical := range rows {
			st := models.DeliveryStatus(canonical)
			if st.Priority() >= 10 {
				logger.WithFields(map[string]interface{}{
					"platform": platform,
					"raw":      raw,
					"value":    canonical,
				}).Warn("status override with unknown canonical value skipped")
				continue
			}
			n.tables[platform][NormalizeRaw(raw)] = st
		}
	}
	return nil
}

// Normalize maps a raw upstream status to one of the ten canonical values.
// Unmapped statuses never fail: they fall back to preparing, the most
// conservative still-pending state, and log the coverage gap.
func (n *Normalizer) Normalize(platform models.Platform, raw string) models.DeliveryStatus {
	key := NormalizeRaw(raw)
	if table, ok := n.tables[platform]; ok {
		if canonical, ok := table[key]; ok {
			return canonical
		}
	}

	logger.WithFields(map[string]interface{}{
		"platform":   platform,
		"raw_status": raw,
	}).Warn("unmapped platform status, defaulting to preparing")
	return models.StatusPreparing
}

// Table returns the raw vocabulary known for a platform, used by coverage
// tests and diagnostics.
func (n *Normalizer) Table(platform models.Platform) map[string]models.DeliveryStatus {
	out := make(map[string]models.DeliveryStatus, len(n.tables[platform]))
	for k, v := range n.tables[platform] {
		out[k] = v
	}
	return out
}

// SortByPriority orders deliveries by canonical status priority: imminent
// first, terminal last. Ties keep a stable order.
func SortByPriority(deliveries []models.UnifiedDelivery) {
	sort.SliceStable(deliveries, func(i, j int) bool {
		return deliveries[i].Status.Priority() < deliveries[j].Status.Priority()
	})
}
