package generation

import (
	"github.com/stylemint/server/internal/model"
)

// RequestKind is the endpoint-level request family.
type RequestKind string

const (
	KindText  RequestKind = "text"
	KindImage RequestKind = "image"
	KindVideo RequestKind = "video"
)

// Shape captures the request predicates that determine the cost bucket.
// Classification is a total function over this closed set; nothing about
// the prompt text participates.
type Shape struct {
	Kind            RequestKind
	HasGarmentRefs  bool
	AvatarRequested bool
}

// Classify maps a request shape to its feature cost bucket.
//
//	video                        -> video
//	text                         -> text
//	image with garment refs      -> try_on (wins over avatar: applying
//	                                garments to a subject is the apply class)
//	image with avatar requested  -> avatar
//	image otherwise              -> image
func Classify(shape Shape) (model.FeatureType, error) {
	switch shape.Kind {
	case KindVideo:
		return model.FeatureVideo, nil
	case KindText:
		return model.FeatureText, nil
	case KindImage:
		if shape.HasGarmentRefs {
			return model.FeatureTryOn, nil
		}
		if shape.AvatarRequested {
			return model.FeatureAvatar, nil
		}
		return model.FeatureImage, nil
	default:
		return "", ErrValidation
	}
}
