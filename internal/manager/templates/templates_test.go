package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryListsThreeBuiltins(t *testing.T) {
	r := NewDefaultRegistry()
	names := make([]string, 0)
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"dfms.templates.archiving_app",
		"dfms.templates.complex_graph",
		"dfms.templates.pip_cont_img_pg",
	}, names)
}

func TestMaterializeUnknownTemplateFailsWithNoTemplate(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := r.Materialize("does.not.exist", nil)
	require.Error(t, err)
}

func TestComplexGraphTemplateBuildsLinearPipeline(t *testing.T) {
	r := NewDefaultRegistry()
	spec, err := r.Materialize("dfms.templates.complex_graph", map[string]string{"prefix": "x"})
	require.NoError(t, err)
	require.Len(t, spec, 3)
	assert.Equal(t, "x_src", spec[0].OID)
	assert.Equal(t, "x_app", spec[1].OID)
	assert.Equal(t, []string{"x_src"}, spec[1].Inputs)
	assert.Equal(t, []string{"x_dst"}, spec[1].Outputs)
}

func TestPipContImgPGTemplateFanOut(t *testing.T) {
	r := NewDefaultRegistry()
	spec, err := r.Materialize("dfms.templates.pip_cont_img_pg", map[string]string{"count": "2"})
	require.NoError(t, err)
	// input + group + 2*(app+product)
	assert.Len(t, spec, 6)
}

func TestArchivingAppTemplateParsesInputList(t *testing.T) {
	r := NewDefaultRegistry()
	spec, err := r.Materialize("dfms.templates.archiving_app", map[string]string{"inputs": "A,B,C"})
	require.NoError(t, err)
	require.Len(t, spec, 1)
	assert.Equal(t, []string{"A", "B", "C"}, spec[0].Inputs)
}
