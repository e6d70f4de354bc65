package template

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leadflow/leadflow/pkg/models"
)

func TestRenderForLead(t *testing.T) {
	lead := &models.Lead{
		ID:     "lead-1",
		Name:   "Alice",
		Phone:  "5511999990000",
		Status: "VIP",
		Tags:   []string{"#vip", "#gold"},
	}

	assert.Equal(t, "Hi Alice", RenderForLead("Hi {{name}}", lead))
	assert.Equal(t, "Hi Alice", RenderForLead("Hi {{ name }}", lead))
	assert.Equal(t, "Call 5511999990000 (VIP)", RenderForLead("Call {{phone}} ({{status}})", lead))
	assert.Equal(t, "Tagged: #vip, #gold", RenderForLead("Tagged: {{tags}}", lead))
}

func TestRenderForLead_UnknownPlaceholderKept(t *testing.T) {
	lead := &models.Lead{Name: "Alice"}

	assert.Equal(t, "Hi {{nickname}}", RenderForLead("Hi {{nickname}}", lead))
}

func TestRenderForLead_NilLead(t *testing.T) {
	assert.Equal(t, "Hi {{name}}", RenderForLead("Hi {{name}}", nil))
}
