package processors

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestBBCodeRemoverConvertsTags(t *testing.T) {
	processor := NewBBCodeRemover()

	require.Equal(t, "", processor.Process("[b][/b]").Output)
	require.Equal(t, "**hello**", processor.Process("[b]hello[/b]").Output)
	require.Equal(t, "*hello*", processor.Process("[I]hello[/i]").Output)
	require.Equal(t, "`ls`", processor.Process("[c]ls[/c]").Output)
	require.Equal(t, "***both***", processor.Process("[i]**both**[/i]").Output)
}

func TestBBCodeRemoverLeavesCenteredTagsAlone(t *testing.T) {
	input := "[center][b]titre[/b][/center]"
	result := NewBBCodeRemover().Process(input)

	require.False(t, result.Changed())
	require.Equal(t, input, result.Output)
}

func TestBBCodeRemoverGolden(t *testing.T) {
	input := strings.Join([]string{
		"[b]Attention[/b] : rocher [i]délité[/i].",
		"",
		"[B][/B]",
		"L'accès [c]code[/c] par [i]**ici**[/i].",
		"x [b] gras [/b] y",
	}, "\n")

	result := NewBBCodeRemover().Process(input)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "bbcode_remover", []byte(result.Output))

	again := NewBBCodeRemover().Process(result.Output)
	require.False(t, again.Changed())
}

func TestMarkdownCleaner(t *testing.T) {
	result := NewMarkdownCleaner().Process("\n\n#Titre\n\n\n\ntexte\n\n")
	require.Equal(t, "# Titre\n\ntexte", result.Output)
	require.False(t, NewMarkdownCleaner().Process(result.Output).Changed())
}

func TestUpperFixCapitalisesHeadingsAndParagraphs(t *testing.T) {
	input := "# titre\n\nvoir https://www.camptocamp.org/routes et :smile:\n\nélan"
	result := NewUpperFix().Process(input)

	require.Equal(t, "# Titre\n\nVoir https://www.camptocamp.org/routes et :smile:\n\nÉlan", result.Output)
	require.False(t, NewUpperFix().Process(result.Output).Changed())
}

func TestUpperFixCapitalisesTableCells(t *testing.T) {
	input := "L# | premier | voir [[routes/12/fr/voie|la voie]]\nL# | b\n\n| hors table"
	result := NewUpperFix().Process(input)

	require.Equal(t, "L# | Premier | Voir [[routes/12/fr/voie|la voie]]\nL# | B\n\n| hors table", result.Output)
}

func TestMultiplicationSign(t *testing.T) {
	result := NewMultiplicationSign().Process("dalle de 2x3m et 4*5 m")
	require.Equal(t, "dalle de 2×3 m et 4×5 m", result.Output)
	require.False(t, NewMultiplicationSign().Process(result.Output).Changed())
}

func TestSpaceBetweenNumberAndUnit(t *testing.T) {
	processor := NewSpaceBetweenNumberAndUnit()
	require.True(t, processor.AppliesTo("fr"))
	require.False(t, processor.AppliesTo("de"))

	result := processor.Process("5km puis 2-3h (10min) et 1m 2m")
	require.Equal(t, "5 km puis 2-3 h (10 min) et 1 m 2 m", result.Output)
	require.False(t, processor.Process(result.Output).Changed())
}

func TestOrthographicRunsCleanupFirst(t *testing.T) {
	processor := NewOrthographic()
	require.Equal(t, []string{"markdown", "upper", "multiplication"}, processor.Stages())

	result := processor.Process("\n\n#titre\n\n\ndalle 2x3m")
	require.Equal(t, "# Titre\n\nDalle 2×3 m", result.Output)
	require.NotEmpty(t, result.Diff)
	require.False(t, processor.Process(result.Output).Changed())
}

func TestAutomaticReplacementsFromFile(t *testing.T) {
	set, err := LoadReplacementsFile(filepath.Join("testdata", "replacements_fr.yaml"))
	require.NoError(t, err)
	require.Equal(t, "fr", set.Lang)

	processor, err := NewAutomaticReplacements(set)
	require.NoError(t, err)
	require.Equal(t, "Fautes courantes", processor.Comment)

	result := processor.Process("un rappell, puis relai relai. Voir https://example.org/rappell")
	require.Equal(t, "un rappel, puis relais relais. Voir https://example.org/rappell", result.Output)
	require.False(t, processor.Process(result.Output).Changed())
}

func TestLoadReplacementsNormalisesAccents(t *testing.T) {
	set, err := LoadReplacements(strings.NewReader("replacements:\n  - old: \"déja\"\n    new: \"déjà\"\n"))
	require.NoError(t, err)
	require.Equal(t, "déja", set.Replacements[0].Old)

	processor, err := NewAutomaticReplacements(set)
	require.NoError(t, err)
	require.Equal(t, "c'est déjà fait", processor.Process("c'est déja fait").Output)
}

func TestNewAutomaticReplacementsRejectsUnstableRules(t *testing.T) {
	_, err := NewAutomaticReplacements(ReplacementSet{Replacements: []Replacement{{Old: "cote", New: "la cote"}}})
	require.ErrorIs(t, err, ErrInvalidReplacements)

	_, err = NewAutomaticReplacements(ReplacementSet{})
	require.ErrorIs(t, err, ErrInvalidReplacements)

	_, err = LoadReplacements(strings.NewReader("unknown: true\n"))
	require.ErrorIs(t, err, ErrInvalidReplacements)
}

func TestLookup(t *testing.T) {
	processor, err := Lookup(" BBCode ", Options{})
	require.NoError(t, err)
	require.Equal(t, "bbcode", processor.Name)

	_, err = Lookup("nope", Options{})
	require.ErrorIs(t, err, ErrUnknownProcessor)

	_, err = Lookup("replacements", Options{})
	require.Error(t, err)

	processor, err = Lookup("replacements", Options{ReplacementsPath: filepath.Join("testdata", "replacements_fr.yaml")})
	require.NoError(t, err)
	require.Equal(t, "fr", processor.Lang)

	require.Equal(t, []string{"bbcode", "markdown", "multiplication", "ortho", "replacements", "units", "upper"}, Names())
}
