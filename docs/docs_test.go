package docs

import (
	"encoding/json"
	"testing"

	"github.com/swaggo/swag"
)

func TestSwaggerDocIsRegisteredAndValidJSON(t *testing.T) {
	doc, err := swag.ReadDoc(SwaggerInfo.InstanceName())
	if err != nil {
		t.Fatalf("ReadDoc: %v", err)
	}
	var sw struct {
		Info  struct{ Title string } `json:"info"`
		Paths map[string]any         `json:"paths"`
	}
	if err := json.Unmarshal([]byte(doc), &sw); err != nil {
		t.Fatalf("swagger doc is not valid JSON: %v", err)
	}
	if sw.Info.Title != "sessiond API" {
		t.Fatalf("title = %q", sw.Info.Title)
	}
	for _, p := range []string{"/v1/session", "/v1/session/prompt", "/v1/session/prompt/stream", "/v1/session/stream", "/status", "/models"} {
		if _, ok := sw.Paths[p]; !ok {
			t.Fatalf("path %s missing", p)
		}
	}
}
