package model

// Rule represents one auto-forwarding configuration for a single mailbox.
// Optional fields use the empty string for "not set".
type Rule struct {
	ID                   uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Email                string `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Name                 string `json:"name" gorm:"type:varchar(255);not null"`
	ForwardingEmail      string `json:"forwarding_email" gorm:"type:varchar(255);not null;default:''"`
	Disposition          string `json:"disposition" gorm:"type:varchar(50);not null;default:''"`
	HasForwardingFilters bool   `json:"has_forwarding_filters" gorm:"not null;default:false;index"`
	Error                string `json:"error" gorm:"type:text"`
	InvestigationNote    string `json:"investigation_note" gorm:"type:text"`
}

// TableName specifies the table name for Rule
func (Rule) TableName() string {
	return "autoforwarding"
}

// RuleUpdate carries a partial update. Nil fields are left untouched; a
// pointer to "" clears an optional field. The derived filter flag is not
// part of it: only the filter store may change that.
type RuleUpdate struct {
	Email             *string
	Name              *string
	ForwardingEmail   *string
	Disposition       *string
	Error             *string
	InvestigationNote *string
}

// IsEmpty reports whether the update would change nothing.
func (u RuleUpdate) IsEmpty() bool {
	return u.Email == nil && u.Name == nil && u.ForwardingEmail == nil &&
		u.Disposition == nil && u.Error == nil && u.InvestigationNote == nil
}

// Apply copies the present fields onto r.
func (u RuleUpdate) Apply(r *Rule) {
	if u.Email != nil {
		r.Email = *u.Email
	}
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.ForwardingEmail != nil {
		r.ForwardingEmail = *u.ForwardingEmail
	}
	if u.Disposition != nil {
		r.Disposition = *u.Disposition
	}
	if u.Error != nil {
		r.Error = *u.Error
	}
	if u.InvestigationNote != nil {
		r.InvestigationNote = *u.InvestigationNote
	}
}

// Columns returns the update as a column/value map, the form GORM needs to
// write zero values.
func (u RuleUpdate) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Email != nil {
		cols["email"] = *u.Email
	}
	if u.Name != nil {
		cols["name"] = *u.Name
	}
	if u.ForwardingEmail != nil {
		cols["forwarding_email"] = *u.ForwardingEmail
	}
	if u.Disposition != nil {
		cols["disposition"] = *u.Disposition
	}
	if u.Error != nil {
		cols["error"] = *u.Error
	}
	if u.InvestigationNote != nil {
		cols["investigation_note"] = *u.InvestigationNote
	}
	return cols
}

// ReplaceWith builds an update that overwrites every scalar field of a rule
// with the values of r, empty optionals included.
func ReplaceWith(r Rule) RuleUpdate {
	return RuleUpdate{
		Email:             &r.Email,
		Name:              &r.Name,
		ForwardingEmail:   &r.ForwardingEmail,
		Disposition:       &r.Disposition,
		Error:             &r.Error,
		InvestigationNote: &r.InvestigationNote,
	}
}
