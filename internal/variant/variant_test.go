package variant

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quanku-art/tile-harvester/internal/model"
)

func TestExtractDeduplicatesByResourceID(t *testing.T) {
	raw := json.RawMessage(`{
		"data": {
			"suha": {
				"hdp": {
					"hdpic": {"resourceId": "R", "name": "Primary"},
					"hdpcoll": {"hdps": [{"resourceId": "R", "name": "Duplicate"}]}
				},
				"info": {
					"name": "Info Name",
					"otherHdps": [{"resourceId": "R"}]
				}
			}
		}
	}`)

	variants, err := Extract(raw, model.SUHA, "work-1", "resource-1")
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "R", variants[0].VariantID)
	assert.Equal(t, "Primary", variants[0].DisplayName)
}

func TestExtractPreservesOrderAndFamilySelection(t *testing.T) {
	raw := json.RawMessage(`{
		"data": {
			"sufa": {
				"hdp": {
					"hdpic": {"resourceId": "A"},
					"hdpcoll": {"hdps": [{"resourceId": "B", "title": "Second"}]}
				},
				"info": {"otherHdps": [{"resourceId": "C"}]}
			},
			"suha": {
				"hdp": {"hdpic": {"resourceId": "WRONG_FAMILY"}}
			}
		}
	}`)

	variants, err := Extract(raw, model.SUFA, "work-1", "resource-1")
	require.NoError(t, err)
	require.Len(t, variants, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{variants[0].VariantID, variants[1].VariantID, variants[2].VariantID})
	assert.Equal(t, "Second", variants[1].DisplayName)
	for _, v := range variants {
		assert.Equal(t, model.SUFA, v.Family)
	}
}

func TestExtractEmptyYieldsNoVariants(t *testing.T) {
	raw := json.RawMessage(`{"data": {"suha": {"hdp": {}}}}`)
	variants, err := Extract(raw, model.SUHA, "work-1", "resource-1")
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestFallbackUsesResourceIDAsVariantID(t *testing.T) {
	v := Fallback(model.SUHA, "work-1", "resource-1", "Display")
	assert.Equal(t, "resource-1", v.VariantID)
	assert.Equal(t, "resource-1", v.ResourceID)
	assert.Equal(t, "Display", v.DisplayName)
}
