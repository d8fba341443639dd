package fingerprint

import (
	"testing"

	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/stretchr/testify/assert"
)

func botIdentity() types.SessionIdentity {
	return types.SessionIdentity{BotID: "shop_bot", AppName: "shop"}
}

func TestComputeDeterministic(t *testing.T) {
	in := Inputs{
		Identity:     botIdentity(),
		StartParam:   "promo",
		Params:       map[string]string{"b": "2", "a": "1"},
		Locale:       "en",
		ThemeScheme:  "dark",
		CacheAllowed: true,
	}

	first := Compute(in)
	// Same params, different insertion order.
	in.Params = map[string]string{"a": "1", "b": "2"}
	second := Compute(in)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestComputeSensitivity(t *testing.T) {
	base := Inputs{
		Identity:     botIdentity(),
		StartParam:   "promo",
		Locale:       "en",
		ThemeScheme:  "dark",
		CacheAllowed: true,
	}
	ref := Compute(base)

	mutations := map[string]Inputs{}

	in := base
	in.StartParam = "other"
	mutations["start param"] = in

	in = base
	in.Locale = "de"
	mutations["locale"] = in

	in = base
	in.ThemeScheme = "light"
	mutations["theme"] = in

	in = base
	in.CacheAllowed = false
	mutations["cache flag"] = in

	in = base
	in.Params = map[string]string{"a": "1"}
	mutations["params"] = in

	in = base
	in.Identity = types.SessionIdentity{BotID: "shop_bot", AppName: "games"}
	mutations["identity"] = in

	for name, mutated := range mutations {
		assert.NotEqual(t, ref, Compute(mutated), "changing %s must change the fingerprint", name)
	}
}

func TestFromRequest(t *testing.T) {
	req, err := types.NewLaunchRequest().
		BotApp("shop_bot", "shop").
		StartParam("promo").
		Param("a", "1").
		Build()
	assert.NoError(t, err)

	in := FromRequest(req, "en", "dark")
	assert.Equal(t, req.Identity, in.Identity)
	assert.Equal(t, "promo", in.StartParam)
	assert.True(t, in.CacheAllowed)
	assert.Equal(t, Compute(in), Compute(FromRequest(req, "en", "dark")))
}
