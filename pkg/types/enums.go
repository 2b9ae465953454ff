package types

// SessionStatus tracks the lifecycle of a collaborative session document
type SessionStatus string

const (
	SessionStatusDraft    SessionStatus = "draft"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusComplete SessionStatus = "complete"
)

// ItemType distinguishes single exercises from compound blocks (supersets)
type ItemType string

const (
	ItemTypeSingle   ItemType = "single"
	ItemTypeCompound ItemType = "compound"
)

// ExerciseType determines which metric fields are meaningful for a set
type ExerciseType string

const (
	ExerciseTypeWeightReps   ExerciseType = "weight_reps"
	ExerciseTypeWeightTime   ExerciseType = "weight_time"
	ExerciseTypeDistanceTime ExerciseType = "distance_time"
	ExerciseTypeReps         ExerciseType = "reps"
	ExerciseTypeTime         ExerciseType = "time"
	ExerciseTypeDistance     ExerciseType = "distance"
)

// SetKind classifies a set within its exercise item
type SetKind string

const (
	SetKindWarmup  SetKind = "warmup"
	SetKindWorking SetKind = "working"
	SetKindDrop    SetKind = "drop"
	SetKindSuper   SetKind = "super"
	SetKindFailure SetKind = "failure"
)

type WeightUnit string

const (
	WeightUnitKilogram WeightUnit = "kg"
	WeightUnitPound    WeightUnit = "lb"
)

type DistanceUnit string

const (
	DistanceUnitMeter     DistanceUnit = "m"
	DistanceUnitKilometer DistanceUnit = "km"
	DistanceUnitMile      DistanceUnit = "mi"
	DistanceUnitYard      DistanceUnit = "yd"
)

// Weight is a unit-tagged load value
type Weight struct {
	Value float64    `json:"value"`
	Unit  WeightUnit `json:"unit"`
}

// ToKilograms normalizes the weight for cross-unit comparison
func (w Weight) ToKilograms() float64 {
	if w.Unit == WeightUnitPound {
		return w.Value * 0.453592
	}
	return w.Value
}

// ToPounds normalizes the weight for display in imperial clients
func (w Weight) ToPounds() float64 {
	if w.Unit == WeightUnitKilogram {
		return w.Value * 2.20462
	}
	return w.Value
}

// Duration is an elapsed-time metric in whole seconds
type Duration struct {
	Value int `json:"value"`
}

// Distance is a unit-tagged distance value
type Distance struct {
	Value float64      `json:"value"`
	Unit  DistanceUnit `json:"unit"`
}

// ToMeters normalizes the distance for cross-unit comparison
func (d Distance) ToMeters() float64 {
	switch d.Unit {
	case DistanceUnitKilometer:
		return d.Value * 1000
	case DistanceUnitMile:
		return d.Value * 1609.34
	case DistanceUnitYard:
		return d.Value * 0.9144
	default:
		return d.Value
	}
}
