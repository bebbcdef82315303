package reward

import "encoding/json"

// strippedKeys are bookkeeping fields clients attach to reward entries that
// must not influence cache identity.
var strippedKeys = map[string]bool{
	"id":  true,
	"seq": true,
}

// Fingerprint returns the canonical JSON form of a specification. Parameter
// keys are emitted sorted (encoding/json's map ordering), sequence-id fields
// are stripped, and the combinator is normalized so an omitted tag and an
// explicit "additive" collide.
func Fingerprint(s Spec) string {
	rewards := make([]map[string]interface{}, len(s.Rewards))
	for i, r := range s.Rewards {
		entry := make(map[string]interface{}, len(r.Params)+1)
		for k, v := range r.Params {
			if strippedKeys[k] {
				continue
			}
			entry[k] = v
		}
		entry["name"] = r.Name
		rewards[i] = entry
	}

	canonical := map[string]interface{}{
		"rewards":         rewards,
		"weights":         s.Weights,
		"combinationType": string(s.EffectiveCombinator()),
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		// Params came from decoded JSON; re-encoding cannot fail.
		return "unfingerprintable"
	}
	return string(data)
}
