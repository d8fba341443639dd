package bridge

import (
	"testing"

	"github.com/embedkit/embedkit/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeErr(t *testing.T, raw string) *types.DecodeError {
	t.Helper()
	_, err := Decode([]byte(raw))
	require.Error(t, err)
	var derr *types.DecodeError
	require.ErrorAs(t, err, &derr)
	return derr
}

func TestDecodeUnknownKind(t *testing.T) {
	derr := decodeErr(t, `{"eventType":"definitely_not_a_thing","eventData":{}}`)
	assert.Equal(t, types.DecodeUnrecognized, derr.Kind)
	assert.Equal(t, "definitely_not_a_thing", derr.EventType)
}

func TestDecodeGarbage(t *testing.T) {
	derr := decodeErr(t, `{not json`)
	assert.Equal(t, types.DecodeMalformedPayload, derr.Kind)

	derr = decodeErr(t, `{"eventData":{}}`)
	assert.Equal(t, types.DecodeMalformedPayload, derr.Kind)
}

func TestDecodeBareKinds(t *testing.T) {
	for _, kind := range []Kind{KindReady, KindExpand, KindClose, KindRequestTheme, KindScanQR} {
		msg, err := Decode([]byte(`{"eventType":"` + string(kind) + `"}`))
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, kind, msg.Kind)
		assert.Nil(t, msg.Payload)
	}
}

func TestDecodeHeaderColor(t *testing.T) {
	msg, err := Decode([]byte(`{"eventType":"set_header_color","eventData":{"color":"#aaBB11"}}`))
	require.NoError(t, err)
	p := msg.Payload.(*HeaderColorPayload)
	assert.Equal(t, "#aaBB11", p.Color)

	msg, err = Decode([]byte(`{"eventType":"set_header_color","eventData":{"color_key":"bg_color"}}`))
	require.NoError(t, err)
	assert.Equal(t, "bg_color", msg.Payload.(*HeaderColorPayload).ColorKey)

	// Invalid colors are rejected, not applied.
	derr := decodeErr(t, `{"eventType":"set_header_color","eventData":{"color":"red"}}`)
	assert.Equal(t, types.DecodeMalformedPayload, derr.Kind)
	decodeErr(t, `{"eventType":"set_header_color","eventData":{"color":"#12345"}}`)
	decodeErr(t, `{"eventType":"set_header_color","eventData":{}}`)
}

func TestDecodeMainButton(t *testing.T) {
	msg, err := Decode([]byte(`{"eventType":"setup_main_button","eventData":{"is_visible":true,"text":"Pay","color":"#112233","text_color":"oops"}}`))
	require.NoError(t, err)
	p := msg.Payload.(*MainButtonPayload)
	assert.True(t, p.IsVisible)
	assert.Equal(t, "#112233", p.Color)
	// Invalid optional color is dropped, message survives.
	assert.Empty(t, p.TextColor)

	decodeErr(t, `{"eventType":"setup_main_button","eventData":{"is_visible":true}}`)
}

func TestDecodePopup(t *testing.T) {
	msg, err := Decode([]byte(`{"eventType":"open_popup","eventData":{"title":"Hi","message":"Sure?","buttons":[{"id":"y","type":"ok"},{"id":"n","type":"cancel"}]}}`))
	require.NoError(t, err)
	p := msg.Payload.(*PopupPayload)
	assert.Len(t, p.Buttons, 2)

	decodeErr(t, `{"eventType":"open_popup","eventData":{"buttons":[{"id":"y"}]}}`)
	decodeErr(t, `{"eventType":"open_popup","eventData":{"message":"m","buttons":[]}}`)
	decodeErr(t, `{"eventType":"open_popup","eventData":{"message":"m","buttons":[{"id":"1"},{"id":"2"},{"id":"3"},{"id":"4"}]}}`)
	decodeErr(t, `{"eventType":"open_popup","eventData":{"message":"m","buttons":[{"id":"y","type":"shiny"}]}}`)
}

func TestDecodeOpenLink(t *testing.T) {
	msg, err := Decode([]byte(`{"eventType":"open_link","eventData":{"url":"https://example.com/a"}}`))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", msg.Payload.(*OpenLinkPayload).URL)

	decodeErr(t, `{"eventType":"open_link","eventData":{"url":"javascript:alert(1)"}}`)
	decodeErr(t, `{"eventType":"open_link","eventData":{}}`)
}

func TestDecodeHaptic(t *testing.T) {
	_, err := Decode([]byte(`{"eventType":"haptic_feedback","eventData":{"type":"impact","impact_style":"light"}}`))
	require.NoError(t, err)
	_, err = Decode([]byte(`{"eventType":"haptic_feedback","eventData":{"type":"selection_change"}}`))
	require.NoError(t, err)

	decodeErr(t, `{"eventType":"haptic_feedback","eventData":{"type":"impact","impact_style":"brutal"}}`)
	decodeErr(t, `{"eventType":"haptic_feedback","eventData":{"type":"earthquake"}}`)
}

func TestDecodeCustomMethod(t *testing.T) {
	msg, err := Decode([]byte(`{"eventType":"invoke_custom_method","eventData":{"req_id":"1","method":"getStorageValues","params":{"keys":["a"]}}}`))
	require.NoError(t, err)
	p := msg.Payload.(*CustomMethodPayload)
	assert.Equal(t, "getStorageValues", p.Method)
	assert.JSONEq(t, `{"keys":["a"]}`, string(p.Params))

	decodeErr(t, `{"eventType":"invoke_custom_method","eventData":{"method":"x"}}`)
}

func TestDecodeClipboardRequiresReqID(t *testing.T) {
	decodeErr(t, `{"eventType":"read_clipboard","eventData":{}}`)
}

func TestEncodeRoundTrip(t *testing.T) {
	raw, err := Encode(KindThemeChanged, &ThemeChangedPayload{ThemeParams: map[string]string{"bg_color": "#ffffff"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventType":"theme_changed","eventData":{"theme_params":{"bg_color":"#ffffff"}}}`, string(raw))

	raw, err = Encode(KindBackPressed, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventType":"back_pressed"}`, string(raw))
}

func TestValidHexColor(t *testing.T) {
	assert.True(t, ValidHexColor("#001122"))
	assert.True(t, ValidHexColor("#AaBbCc"))
	assert.False(t, ValidHexColor("001122"))
	assert.False(t, ValidHexColor("#0011"))
	assert.False(t, ValidHexColor("#00112233"))
	assert.False(t, ValidHexColor("#gg0011"))
}
