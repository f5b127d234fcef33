package analytics

import (
	"testing"

	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmail_MixedCaseSource(t *testing.T) {
	subs := []*models.Submission{
		withUTM(sub("Goed", models.LeadTypeSamplePack), "ActiveCampaign", "email", "Newsletter 2"),
		withUTM(sub("Goed", models.LeadTypeSamplePack), "facebook", "paid", "c1"),
	}

	email, paid := SplitEmail(subs)
	require.Len(t, email, 1)
	require.Len(t, paid, 1)
	assert.Equal(t, "facebook", paid[0].UTM.Source)

	channels := Aggregate(paid, ByChannel, DefaultRules())
	assert.Nil(t, channels.Get("ActiveCampaign"))
}

func TestEmailReport(t *testing.T) {
	subs := []*models.Submission{
		withUTM(sub("Goed", models.LeadTypeSamplePack), "ActiveCampaign", "email", "Newsletter 2"),
		withUTM(sub("", models.LeadTypeLookbook), "activecampaign", "email", "Newsletter 2"),
		withUTM(sub("Goed", models.LeadTypeSamplePack), "mailchimp", "email", "Newsletter 1"),
		withUTM(sub("Goed", models.LeadTypeSamplePack), "facebook", "paid", "Newsletter 2"),
	}
	budgets := []*models.CampaignBudget{
		{CampaignName: "NL2", UTMCampaigns: []string{"newsletter 2"}, EmailsSent: 1000, OpenRate: 0.4, ClickRate: 0.05},
	}

	rows := EmailReport(subs, budgets, DefaultRules())
	require.Len(t, rows, 2)

	assert.Equal(t, "Newsletter 1", rows[0].Dimensions.Campaign)
	assert.Zero(t, rows[0].EmailsSent)
	assert.Zero(t, rows[0].LeadsPer1000Sent)

	nl2 := rows[1]
	assert.Equal(t, 2, nl2.Total)
	assert.Equal(t, 1000, nl2.EmailsSent)
	assert.InDelta(t, 400, nl2.Opens, 1e-9)
	assert.InDelta(t, 50, nl2.Clicks, 1e-9)
	assert.InDelta(t, 0.4, nl2.OpenRate, 1e-9)
	assert.InDelta(t, 2, nl2.LeadsPer1000Sent, 1e-9)
	assert.InDelta(t, 0.04, nl2.ClickToLeadRate, 1e-9)
}
