package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillcam/stillcam/internal/spa"
)

func TestParamSurvivesJSONEnvelope(t *testing.T) {
	format := spa.NewVideoFormat(spa.ParamEnumFormat, spa.VideoInfo{
		Format:    spa.VideoFormatBGRA,
		Size:      spa.Rectangle{Width: 640, Height: 480},
		Framerate: spa.Fraction{Num: 30, Denom: 1},
	})
	param, err := EncodeParam(format)
	require.NoError(t, err)

	data, err := json.Marshal(Message{Type: TypeEnumFormatReply, Seq: 3, Param: param})
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, TypeEnumFormatReply, msg.Type)
	assert.Equal(t, uint32(3), msg.Seq)

	obj, err := DecodeParam(msg.Param)
	require.NoError(t, err)
	assert.Equal(t, format, obj)
}

func TestDecodeEmptyParam(t *testing.T) {
	obj, err := DecodeParam(nil)
	require.NoError(t, err)
	assert.Nil(t, obj)

	_, err = DecodeParam([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestErrorMessage(t *testing.T) {
	msg := ErrorMessage(7, CodeBusy, "producer already linked")
	require.NotNil(t, msg.Error)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "busy: producer already linked", msg.Error.Error())

	assert.Equal(t, "busy", (&Error{Code: CodeBusy}).Error())
}
