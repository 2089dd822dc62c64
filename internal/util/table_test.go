package util

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, []TableColumn{
		{Header: "NAME", Key: "name"},
		{Header: "STATE", Key: "state"},
	}, []map[string]interface{}{
		{"name": "virtual-camera", "state": "\033[32mstreaming\033[0m"},
		{"name": "sink", "state": "paused"},
	})

	assert.Equal(t, ""+
		"NAME           STATE\n"+
		"-------------- ---------\n"+
		"virtual-camera \033[32mstreaming\033[0m\n"+
		"sink           paused\n", buf.String())
}

func TestRenderEmptyTable(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, []TableColumn{{Header: "NAME", Key: "name"}}, nil)
	assert.Equal(t, "No data to display\n", buf.String())
}

func TestGlobalLogRedirect(t *testing.T) {
	var buf bytes.Buffer
	initLogger(&buf, false)
	defer InitLogger(false)

	SetupGlobalLogger()
	log.Printf("http: accept error")
	assert.Contains(t, buf.String(), "level=INFO msg=\"http: accept error\"")
}

func TestLoggerWritesToHandler(t *testing.T) {
	var buf bytes.Buffer
	initLogger(&buf, true)
	defer InitLogger(false)

	GetLogger().Debug("negotiated", "format", "BGRA")
	Component("bus").Info("ready")

	assert.Contains(t, buf.String(), "level=DEBUG msg=negotiated format=BGRA")
	assert.Contains(t, buf.String(), "component=bus")
}
