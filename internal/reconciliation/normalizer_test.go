package reconciliation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/jstats/internal/listing"
)

func TestExtractValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1,234回", "1234"},
		{"—", "0"},
		{"", "0"},
		{"0", "0"},
		{"12", "12"},
		{"45.6%", "45.6"},
		{"  12 分", "12"},
		{"３５", "35"},
		{"１，２３４本", "1234"},
		{"平均 7.25 km", "7.25"},
		{"3/10", "3"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ExtractValue(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ExtractValue(got), "extracting twice must not change the value")
		})
	}
}

func TestNormalizeSkipsPlaceholderNames(t *testing.T) {
	rows := []listing.Row{
		{PlayerName: "選手名", TeamName: "チーム", DisplayValue: "数値"},
		{PlayerName: "  ", TeamName: "清水", DisplayValue: "3"},
		{PlayerName: " 山田 太郎 ", TeamName: " 清水 ", DisplayValue: "3試合", ProfileLink: "https://example.test/p/1"},
	}

	got := Normalize(rows, "game")

	assert.Equal(t, 2, got.Skipped)
	require.Len(t, got.Records, 1)
	assert.Equal(t, StatRecord{
		Identity:   PlayerIdentity{Name: "山田 太郎", Team: "清水"},
		ProfileURL: "https://example.test/p/1",
		Category:   "game",
		Value:      "3",
	}, got.Records[0])
}

func TestNormalizeBackfillsMajorityTeam(t *testing.T) {
	rows := []listing.Row{
		{PlayerName: "A", TeamName: "", DisplayValue: "1"},
		{PlayerName: "B", TeamName: "X", DisplayValue: "2"},
		{PlayerName: "C", TeamName: "X", DisplayValue: "3"},
		{PlayerName: "D", TeamName: "Y", DisplayValue: "4"},
	}

	got := Normalize(rows, "score")

	require.Len(t, got.Records, 4)
	assert.Equal(t, "X", got.Records[0].Identity.Team)
	assert.Equal(t, "Y", got.Records[3].Identity.Team, "populated teams are never rewritten")
	assert.Equal(t, 1, got.Backfilled)
	assert.Equal(t, "X", got.BackfillTeam)
	assert.False(t, got.BackfillTie)
}

func TestNormalizeBackfillTieUsesFirstListedTeam(t *testing.T) {
	rows := []listing.Row{
		{PlayerName: "A", TeamName: "Y", DisplayValue: "1"},
		{PlayerName: "B", TeamName: "X", DisplayValue: "2"},
		{PlayerName: "C", DisplayValue: "3"},
	}

	got := Normalize(rows, "score")

	assert.Equal(t, "Y", got.Records[2].Identity.Team)
	assert.True(t, got.BackfillTie)
}

func TestNormalizeWithoutAnyTeamLeavesTeamsEmpty(t *testing.T) {
	rows := []listing.Row{
		{PlayerName: "A", DisplayValue: "1"},
		{PlayerName: "B", DisplayValue: "2"},
	}

	got := Normalize(rows, "score")

	assert.Zero(t, got.Backfilled)
	for _, r := range got.Records {
		assert.Empty(t, r.Identity.Team)
	}
}

func TestNormalizeEmptyListing(t *testing.T) {
	got := Normalize(nil, "score")
	assert.Empty(t, got.Records)
	assert.Equal(t, "score", got.Category)
}

func TestNormalizeFoldsNameWidth(t *testing.T) {
	rows := []listing.Row{
		{PlayerName: "ﾁｱｺﾞ ｻﾝﾀﾅ", TeamName: "清水", DisplayValue: "3"},
		{PlayerName: "チアゴ サンタナ", TeamName: "清水", DisplayValue: "4"},
		{PlayerName: "ＭＯＲＩ", TeamName: "ＦＣ東京", DisplayValue: "1"},
		{PlayerName: "－", TeamName: "清水", DisplayValue: "9"},
	}

	got := Normalize(rows, "score")

	require.Len(t, got.Records, 3)
	assert.Equal(t, got.Records[1].Identity, got.Records[0].Identity)
	assert.Equal(t, PlayerIdentity{Name: "MORI", Team: "FC東京"}, got.Records[2].Identity)
	assert.Equal(t, 1, got.Skipped)
}
