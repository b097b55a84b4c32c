package ledger

import "github.com/stylemint/server/internal/model"

// featureCosts is the static feature-to-cost table. Costs are in credits.
var featureCosts = map[model.FeatureType]int64{
	model.FeatureText:   1,
	model.FeatureImage:  5,
	model.FeatureTryOn:  8,
	model.FeatureAvatar: 10,
	model.FeatureVideo:  40,
}

// Cost returns the credit cost for a feature type.
func Cost(feature model.FeatureType) (int64, bool) {
	cost, ok := featureCosts[feature]
	return cost, ok
}
