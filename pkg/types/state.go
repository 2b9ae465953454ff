package types

// ExerciseRef links an item to catalog exercise metadata
type ExerciseRef struct {
	InternalID string       `json:"internal_id"`
	Name       string       `json:"name"`
	Type       ExerciseType `json:"type"`
}

// Metrics holds at most the measurement fields relevant to the item's
// exercise type; absent fields stay off the wire entirely
type Metrics struct {
	Reps     *int      `json:"reps,omitempty"`
	Weight   *Weight   `json:"weight,omitempty"`
	Duration *Duration `json:"duration,omitempty"`
	Distance *Distance `json:"distance,omitempty"`
}

// Set is one performed (or planned) set within an exercise item
type Set struct {
	ID       string  `json:"id"`
	Order    int     `json:"order"`
	Metrics  Metrics `json:"metrics"`
	Type     SetKind `json:"type"`
	Complete bool    `json:"complete"`
}

// Item is one exercise entry in a participant's workout sequence
type Item struct {
	ID           string        `json:"id"`
	Order        int           `json:"order"`
	Participants []string      `json:"participants"`
	Type         ItemType      `json:"type"`
	Rest         int           `json:"rest"`
	Meta         []ExerciseRef `json:"meta"`
	Sets         []Set         `json:"sets"`
}

// ParticipantState is the versioned workout sequence owned jointly by
// exactly one (session, account) pair.
// FUNCTIONAL DISCOVERY: Version increases by exactly 1 per accepted mutation
// and never decreases; every mutation method below maintains that invariant.
type ParticipantState struct {
	SessionID string `json:"session_id"`
	AccountID string `json:"account_id"`
	Version   int    `json:"version"`
	Items     []Item `json:"items"`
}

// NewParticipantState creates the lazy version-0 empty state
func NewParticipantState(sessionID, accountID string) *ParticipantState {
	return &ParticipantState{
		SessionID: sessionID,
		AccountID: accountID,
		Version:   0,
		Items:     []Item{},
	}
}

// ItemUpdate carries the mutable item fields; nil pointers leave the
// current value untouched (order only changes through ReorderItem)
type ItemUpdate struct {
	Rest         *int          `json:"rest,omitempty"`
	Type         *ItemType     `json:"type,omitempty"`
	Participants []string      `json:"participants,omitempty"`
	Meta         []ExerciseRef `json:"meta,omitempty"`
}

// SetUpdate carries the mutable set fields
type SetUpdate struct {
	Metrics  *Metrics `json:"metrics,omitempty"`
	Type     *SetKind `json:"type,omitempty"`
	Complete *bool    `json:"complete,omitempty"`
}

func (s *ParticipantState) findItem(itemID string) *Item {
	// TECHNICAL DISCOVERY: linear scan is fine at the expected scale of
	// tens of items; an index map would cost more than it saves
	for i := range s.Items {
		if s.Items[i].ID == itemID {
			return &s.Items[i]
		}
	}
	return nil
}

func (i *Item) findSet(setID string) *Set {
	for j := range i.Sets {
		if i.Sets[j].ID == setID {
			return &i.Sets[j]
		}
	}
	return nil
}

// AddItem appends the item at the end of the sequence and bumps the version
func (s *ParticipantState) AddItem(item Item) *Item {
	item.Order = len(s.Items) + 1
	if item.Participants == nil {
		item.Participants = []string{}
	}
	if item.Meta == nil {
		item.Meta = []ExerciseRef{}
	}
	if item.Sets == nil {
		item.Sets = []Set{}
	}
	s.Items = append(s.Items, item)
	s.Version++
	return &s.Items[len(s.Items)-1]
}

// UpdateItem applies the non-nil fields of upd to the target item.
// A missing target returns ErrItemNotFound with no mutation and no bump.
func (s *ParticipantState) UpdateItem(itemID string, upd ItemUpdate) (*Item, error) {
	item := s.findItem(itemID)
	if item == nil {
		return nil, ErrItemNotFound
	}
	if upd.Rest != nil {
		item.Rest = *upd.Rest
	}
	if upd.Type != nil {
		item.Type = *upd.Type
	}
	if upd.Participants != nil {
		item.Participants = upd.Participants
	}
	if upd.Meta != nil {
		item.Meta = upd.Meta
	}
	s.Version++
	return item, nil
}

// RemoveItem deletes the target item and re-normalizes the survivors'
// order fields to a contiguous 1-based sequence
func (s *ParticipantState) RemoveItem(itemID string) error {
	idx := -1
	for i := range s.Items {
		if s.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrItemNotFound
	}
	s.Items = append(s.Items[:idx], s.Items[idx+1:]...)
	s.renumberItems()
	s.Version++
	return nil
}

// ReorderItem moves the target item to the given 1-based position,
// clamping out-of-range positions to the sequence bounds
func (s *ParticipantState) ReorderItem(itemID string, position int) (*Item, error) {
	idx := -1
	for i := range s.Items {
		if s.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	if position < 1 {
		position = 1
	}
	if position > len(s.Items) {
		position = len(s.Items)
	}
	item := s.Items[idx]
	s.Items = append(s.Items[:idx], s.Items[idx+1:]...)
	rest := append([]Item{}, s.Items[position-1:]...)
	s.Items = append(append(s.Items[:position-1], item), rest...)
	s.renumberItems()
	s.Version++
	return &s.Items[position-1], nil
}

// AddSet appends the set at the end of the target item's sequence
func (s *ParticipantState) AddSet(itemID string, set Set) (*Set, error) {
	item := s.findItem(itemID)
	if item == nil {
		return nil, ErrItemNotFound
	}
	set.Order = len(item.Sets) + 1
	item.Sets = append(item.Sets, set)
	s.Version++
	return &item.Sets[len(item.Sets)-1], nil
}

// UpdateSet applies the non-nil fields of upd to the target set
func (s *ParticipantState) UpdateSet(itemID, setID string, upd SetUpdate) (*Set, error) {
	item := s.findItem(itemID)
	if item == nil {
		return nil, ErrItemNotFound
	}
	set := item.findSet(setID)
	if set == nil {
		return nil, ErrSetNotFound
	}
	if upd.Metrics != nil {
		set.Metrics = *upd.Metrics
	}
	if upd.Type != nil {
		set.Type = *upd.Type
	}
	if upd.Complete != nil {
		set.Complete = *upd.Complete
	}
	s.Version++
	return set, nil
}

// RemoveSet deletes the target set and re-normalizes the survivors' order
func (s *ParticipantState) RemoveSet(itemID, setID string) error {
	item := s.findItem(itemID)
	if item == nil {
		return ErrItemNotFound
	}
	idx := -1
	for i := range item.Sets {
		if item.Sets[i].ID == setID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrSetNotFound
	}
	item.Sets = append(item.Sets[:idx], item.Sets[idx+1:]...)
	item.renumberSets()
	s.Version++
	return nil
}

// CompleteSet marks the target set done
func (s *ParticipantState) CompleteSet(itemID, setID string) (*Set, error) {
	item := s.findItem(itemID)
	if item == nil {
		return nil, ErrItemNotFound
	}
	set := item.findSet(setID)
	if set == nil {
		return nil, ErrSetNotFound
	}
	set.Complete = true
	s.Version++
	return set, nil
}

// ReorderSet moves the target set to the given 1-based position within its item
func (s *ParticipantState) ReorderSet(itemID, setID string, position int) (*Set, error) {
	item := s.findItem(itemID)
	if item == nil {
		return nil, ErrItemNotFound
	}
	idx := -1
	for i := range item.Sets {
		if item.Sets[i].ID == setID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrSetNotFound
	}
	if position < 1 {
		position = 1
	}
	if position > len(item.Sets) {
		position = len(item.Sets)
	}
	set := item.Sets[idx]
	item.Sets = append(item.Sets[:idx], item.Sets[idx+1:]...)
	rest := append([]Set{}, item.Sets[position-1:]...)
	item.Sets = append(append(item.Sets[:position-1], set), rest...)
	item.renumberSets()
	s.Version++
	return &item.Sets[position-1], nil
}

func (s *ParticipantState) renumberItems() {
	for i := range s.Items {
		s.Items[i].Order = i + 1
	}
}

func (i *Item) renumberSets() {
	for j := range i.Sets {
		i.Sets[j].Order = j + 1
	}
}
