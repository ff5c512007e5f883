package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ctxCatalogJSON = `[
  {"function_name": "create_ctx", "is_vararg": false,
   "return_info": {"name": "return", "flag": "ref", "size": 64, "type": "Ctx*", "const": [false, false]},
   "arguments_info": []},
  {"function_name": "use_ctx", "is_vararg": false,
   "return_info": {"name": "return", "flag": "val", "size": 0, "type": "void", "const": false},
   "arguments_info": [
     {"name": "c", "flag": "ref", "size": 64, "type": "Ctx*", "const": [false, false]},
     {"name": "n", "flag": "val", "size": 32, "type": "int", "const": [false]}]},
  {"function_name": "destroy_ctx", "is_vararg": false,
   "return_info": {"name": "return", "flag": "val", "size": 0, "type": "void", "const": false},
   "arguments_info": [{"name": "c", "flag": "ref", "size": 64, "type": "Ctx*", "const": [false, false]}]}
]`

func TestDecodeJSONArray(t *testing.T) {
	apis, err := Decode(strings.NewReader(ctxCatalogJSON))
	require.NoError(t, err)
	require.Len(t, apis, 3)

	c, err := New(apis)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"create_ctx", "destroy_ctx", "use_ctx"}, c.Names())

	use, ok := c.Get("use_ctx")
	require.True(t, ok)
	assert.Equal(t, FlagRef, use.Args[0].Flag)
	assert.Equal(t, ConstFlags{false}, use.Return.Const, "bare bool const is a one-level list")

	// load order is preserved
	assert.Equal(t, "create_ctx", c.APIs()[0].Name)
}

func TestDecodeJSONLines(t *testing.T) {
	in := `# generated
{"function_name": "f", "is_vararg": true, "return_info": {"name": "return", "flag": "val", "size": 32, "type": "int", "const": false}, "arguments_info": []}

{"function_name": "g", "is_vararg": false, "return_info": {"name": "return", "flag": "val", "size": 0, "type": "void", "const": false}, "arguments_info": []}
`
	apis, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, apis, 2)
	assert.True(t, apis[0].IsVararg)

	_, err = Decode(strings.NewReader("{not json}\n"))
	assert.Error(t, err)
}

func TestRetFlattening(t *testing.T) {
	in := `[{"function_name": "get_point", "is_vararg": false,
	  "return_info": {"name": "return", "flag": "val", "size": 0, "type": "void", "const": false},
	  "arguments_info": [
	    {"name": "out", "flag": "ret", "size": 64, "type": "Point*", "const": [false, false]},
	    {"name": "x", "flag": "val", "size": 32, "type": "int", "const": [false]}]}]`

	apis, err := Decode(strings.NewReader(in))
	require.NoError(t, err)

	want := &Api{
		Name:   "get_point",
		Return: Arg{Name: "out", Flag: FlagVal, Size: -1, Type: "Point", Const: ConstFlags{false}},
		Args:   []Arg{{Name: "x", Flag: FlagVal, Size: 32, Type: "int", Const: ConstFlags{false}}},
	}
	if diff := cmp.Diff(want, apis[0]); diff != "" {
		t.Errorf("flattened api mismatch (-want +got):\n%s", diff)
	}
}

func TestRetFlatteningRejectsTwoRets(t *testing.T) {
	in := `[{"function_name": "bad", "is_vararg": false,
	  "return_info": {"name": "return", "flag": "val", "size": 0, "type": "void", "const": false},
	  "arguments_info": [
	    {"name": "a", "flag": "ret", "size": 64, "type": "A*", "const": false},
	    {"name": "b", "flag": "ret", "size": 64, "type": "B*", "const": false}]}]`
	_, err := Decode(strings.NewReader(in))
	assert.Error(t, err)
}

func TestDuplicateNames(t *testing.T) {
	a := &Api{Name: "dup", Return: Arg{Type: "void", Flag: FlagVal}}
	_, err := New([]*Api{a, a})
	assert.ErrorIs(t, err, ErrDuplicateAPI)
}

func TestApiKey(t *testing.T) {
	a := &Api{Name: "f", Return: Arg{Type: "int", Flag: FlagVal, Size: 32}}
	b := &Api{Name: "f", Return: Arg{Type: "int", Flag: FlagVal, Size: 32}}
	assert.True(t, a.Equal(b))

	b.Args = []Arg{{Name: "x", Type: "int", Flag: FlagVal}}
	assert.False(t, a.Equal(b))
}

func TestTypeUses(t *testing.T) {
	apis, err := Decode(strings.NewReader(ctxCatalogJSON))
	require.NoError(t, err)
	c, err := New(apis)
	require.NoError(t, err)

	uses := c.TypeUses()
	// create_ctx: ret; use_ctx: 2 args + ret; destroy_ctx: 1 arg + ret
	assert.Len(t, uses, 6)
	assert.Equal(t, "Ctx*", uses[0].Token)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apis.json")
	require.NoError(t, os.WriteFile(path, []byte(ctxCatalogJSON), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// =============================================================================
// PROTOTYPE PARSING
// =============================================================================

func TestParseSignature(t *testing.T) {
	api, err := ParseSignature("int curl_easy_setopt(CURL *, int, ...)")
	require.NoError(t, err)

	assert.Equal(t, "curl_easy_setopt", api.Name)
	assert.True(t, api.IsVararg)
	assert.Equal(t, []string{"curl", "easy"}, api.Namespace)
	assert.Equal(t, Arg{Name: "return", Flag: FlagVal, Size: 32, Type: "int", Const: ConstFlags{false}}, api.Return)

	require.Len(t, api.Args, 2)
	assert.Equal(t, FlagRef, api.Args[0].Flag)
	assert.Equal(t, "CURL *", api.Args[0].Type)
	assert.Equal(t, 64, api.Args[0].Size)
	assert.Equal(t, "arg1", api.Args[1].Name)
}

func TestParseSignatureNamesAndFunctionPointers(t *testing.T) {
	api, err := ParseSignature("const char *png_get_name(const png_struct *png_ptr, int (*cb)(void *), unsigned long len, char buf[16]);")
	require.NoError(t, err)

	assert.Equal(t, FlagRef, api.Return.Flag)
	assert.Equal(t, ConstFlags{true}, api.Return.Const)

	require.Len(t, api.Args, 4)
	assert.Equal(t, "png_ptr", api.Args[0].Name)
	assert.Equal(t, "const png_struct *", api.Args[0].Type)

	assert.Equal(t, "cb", api.Args[1].Name)
	assert.Equal(t, FlagFun, api.Args[1].Flag)
	assert.Equal(t, "int (*)(void *)", api.Args[1].Type)

	assert.Equal(t, "len", api.Args[2].Name)
	assert.Equal(t, 64, api.Args[2].Size)

	assert.Equal(t, "buf", api.Args[3].Name)
	assert.Equal(t, "char*", api.Args[3].Type)
	assert.Equal(t, FlagRef, api.Args[3].Flag)
}

func TestParseSignatureErrors(t *testing.T) {
	_, err := ParseSignature("no parens here")
	assert.Error(t, err)

	_, err = ParseSignature("int f(int")
	assert.Error(t, err)
}
