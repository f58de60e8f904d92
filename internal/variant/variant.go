// Package variant walks a resource-detail payload and enumerates its
// distinct image variants.
package variant

import (
	"encoding/json"

	"github.com/quanku-art/tile-harvester/internal/model"
)

// hdp is the shape shared by hdpic and each entry of hdpcoll.hdps /
// otherHdps: a resourceId plus whatever naming fields happen to be present.
type hdp struct {
	ResourceID string `json:"resourceId"`
	Name       string `json:"name"`
	Title      string `json:"title"`
}

func (h hdp) empty() bool { return h.ResourceID == "" }

type hdpColl struct {
	Hdps []hdp `json:"hdps"`
}

type infoBlock struct {
	Name      string `json:"name"`
	OtherHdps []hdp  `json:"otherHdps"`
}

type familyBlock struct {
	Hdp  hdpBlock  `json:"hdp"`
	Info infoBlock `json:"info"`
}

type hdpBlock struct {
	Hdpic   hdp     `json:"hdpic"`
	Hdpcoll hdpColl `json:"hdpcoll"`
}

type payload struct {
	Suha familyBlock `json:"suha"`
	Sufa familyBlock `json:"sufa"`
}

type resourceDetail struct {
	Data payload `json:"data"`
}

// Extract walks raw (the JSON body of a getResource response) and returns
// the deduplicated, order-preserving list of variants for the given
// resource, family, and owning work. Dedup key is resourceId; display name
// falls back through name, title, the enclosing info block's name, and
// finally the resourceId itself.
func Extract(raw json.RawMessage, family model.Family, workID, resourceID string) ([]model.Variant, error) {
	var detail resourceDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, err
	}

	block := detail.Data.Suha
	if family == model.SUFA {
		block = detail.Data.Sufa
	}

	seen := make(map[string]bool)
	var out []model.Variant

	add := func(h hdp) {
		if h.empty() || seen[h.ResourceID] {
			return
		}
		seen[h.ResourceID] = true
		out = append(out, model.Variant{
			VariantID:   h.ResourceID,
			DisplayName: displayName(h, block.Info.Name),
			Family:      family,
			ResourceID:  resourceID,
			WorkID:      workID,
		})
	}

	add(block.Hdp.Hdpic)
	for _, h := range block.Hdp.Hdpcoll.Hdps {
		add(h)
	}
	for _, h := range block.Info.OtherHdps {
		add(h)
	}

	return out, nil
}

func displayName(h hdp, infoName string) string {
	switch {
	case h.Name != "":
		return h.Name
	case h.Title != "":
		return h.Title
	case infoName != "":
		return infoName
	default:
		return h.ResourceID
	}
}

// Fallback synthesizes the single variant used when Extract returns none:
// the resource itself, addressed by its own id.
func Fallback(family model.Family, workID, resourceID, displayName string) model.Variant {
	return model.Variant{
		VariantID:   resourceID,
		DisplayName: displayName,
		Family:      family,
		ResourceID:  resourceID,
		WorkID:      workID,
	}
}
