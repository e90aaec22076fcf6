package externals

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/starford/inkbuild/internal/models"
)

func TestFunctions(t *testing.T) {
	js := `story.BindExternalFunction("roll", (n) => 4);
story.BindExternalFunction ( 'log', msg => console.log(msg) );
story.BindExternalFunctionGeneral(` + "`raw`" + `, args => 0);
story.BindExternalFunction("roll", () => 6);
// BindExternalFunction(name, fn) with a variable name is ignored`

	assert.Equal(t, []string{"roll", "log", "raw"}, Functions(js))
}

func TestIndex(t *testing.T) {
	x := NewIndex()
	a := models.DocumentID("/ws/a.js")
	b := models.DocumentID("/ws/b.js")

	x.Update(a, `BindExternalFunction("roll", f)`)
	x.Update(b, `BindExternalFunction("roll", f); BindExternalFunction("log", g)`)
	assert.Equal(t, []models.DocumentID{a, b}, x.Lookup("roll"))
	assert.Equal(t, []models.DocumentID{b}, x.Lookup("log"))

	x.Update(b, `BindExternalFunction("log", g)`)
	assert.Equal(t, []models.DocumentID{a}, x.Lookup("roll"))

	x.Remove(a)
	assert.Empty(t, x.Lookup("roll"))
	assert.Empty(t, x.Lookup("missing"))
}
