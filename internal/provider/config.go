package provider

import (
	"fmt"
	"strings"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
)

// requiredConfigFields maps each integration type to the config keys that
// must be present and non-empty at creation time.
var requiredConfigFields = map[models.IntegrationType][]string{
	models.IntegrationTypeWebhook: {"url", "events"},
	models.IntegrationTypeLMS:     {},
	models.IntegrationTypeSSO:     {"issuer"},
	models.IntegrationTypeAI:      {"model"},
}

// ValidateConfig checks the config map shape for the given integration type.
func ValidateConfig(integrationType models.IntegrationType, config models.JSONMap) error {
	required, ok := requiredConfigFields[integrationType]
	if !ok {
		return NewError(CodeInvalidConfig, fmt.Sprintf("unknown integration type %q", integrationType))
	}
	var missing []string
	for _, field := range required {
		value, exists := config[field]
		if !exists || isEmptyValue(value) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return NewError(CodeInvalidConfig, fmt.Sprintf("missing required config fields: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}

// MapFields projects src through a destination-field -> source-field mapping,
// used to normalise provider payloads into internal shapes. Missing source
// fields are skipped.
func MapFields(src map[string]interface{}, mapping map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(mapping))
	for dst, key := range mapping {
		if value, ok := src[key]; ok {
			out[dst] = value
		}
	}
	return out
}
