// Package domain defines the versioned tariff records, the transaction and
// workbasket model, and the rule evaluation primitives shared by tariffcore.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecordKind identifies the type of versioned record.
type RecordKind string

// Supported record kinds. The set is closed: persistence and rule applicability
// switch over these values.
const (
	KindRegulation        RecordKind = "regulation"
	KindMeasureType       RecordKind = "measure_type"
	KindGeographicalArea  RecordKind = "geographical_area"
	KindAdditionalCode    RecordKind = "additional_code"
	KindCertificate       RecordKind = "certificate"
	KindQuotaOrderNumber  RecordKind = "quota_order_number"
	KindGoodsNomenclature RecordKind = "goods_nomenclature"
	KindIndent            RecordKind = "goods_nomenclature_indent"
	KindMeasure           RecordKind = "measure"
	KindMeasureCondition  RecordKind = "measure_condition"
)

// RecordKinds lists every kind in dependency order (referenced kinds first).
var RecordKinds = []RecordKind{
	KindRegulation,
	KindMeasureType,
	KindGeographicalArea,
	KindAdditionalCode,
	KindCertificate,
	KindQuotaOrderNumber,
	KindGoodsNomenclature,
	KindIndent,
	KindMeasure,
	KindMeasureCondition,
}

// Valid reports whether k is one of the supported kinds.
func (k RecordKind) Valid() bool {
	for _, known := range RecordKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Identity is the stable business key shared by every version of a fact.
type Identity struct {
	Kind RecordKind `json:"kind"`
	Key  string     `json:"key"`
}

func (i Identity) String() string { return string(i.Kind) + ":" + i.Key }

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool { return i.Kind == "" && i.Key == "" }

// Record is the capability every versioned record kind implements.
type Record interface {
	Kind() RecordKind
	Identity() Identity
	// Validity returns the record's own validity period; ok is false for kinds
	// that inherit validity from a parent record.
	Validity() (ValidityRange, bool)
}

func sidKey(sid int) string { return strconv.Itoa(sid) }

// RegulationRef points at a regulation by role and identifier.
type RegulationRef struct {
	RoleType     int    `json:"role_type" yaml:"role_type"`
	RegulationID string `json:"regulation_id" yaml:"regulation_id"`
}

// Identity returns the identity of the referenced regulation.
func (r RegulationRef) Identity() Identity {
	return Identity{Kind: KindRegulation, Key: fmt.Sprintf("%d/%s", r.RoleType, r.RegulationID)}
}

// IsZero reports whether the reference is unset.
func (r RegulationRef) IsZero() bool { return r.RegulationID == "" }

// Regulation is a legal act that generates measures.
type Regulation struct {
	RoleType     int           `json:"role_type" yaml:"role_type"`
	RegulationID string        `json:"regulation_id" yaml:"regulation_id"`
	ValidBetween ValidityRange `json:"valid_between" yaml:"valid_between"`
	// EffectiveEnd overrides the end of validity for measures that carry no end date of their own.
	EffectiveEnd *time.Time `json:"effective_end,omitempty" yaml:"effective_end,omitempty"`
	Information  string     `json:"information,omitempty" yaml:"information,omitempty"`
}

func (Regulation) Kind() RecordKind { return KindRegulation }
func (r Regulation) Identity() Identity {
	return RegulationRef{RoleType: r.RoleType, RegulationID: r.RegulationID}.Identity()
}
func (r Regulation) Validity() (ValidityRange, bool) { return r.ValidBetween, true }

// ImplicitEnd is the date used when a generated measure has no end date.
func (r Regulation) ImplicitEnd() *time.Time {
	if r.EffectiveEnd != nil {
		return copyDate(r.EffectiveEnd)
	}
	return copyDate(r.ValidBetween.Upper)
}

// MeasureType classifies measures (e.g. 103 third country duty).
type MeasureType struct {
	MeasureTypeID string        `json:"measure_type_id" yaml:"measure_type_id"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	ValidBetween  ValidityRange `json:"valid_between" yaml:"valid_between"`
}

func (MeasureType) Kind() RecordKind { return KindMeasureType }
func (m MeasureType) Identity() Identity {
	return Identity{Kind: KindMeasureType, Key: m.MeasureTypeID}
}
func (m MeasureType) Validity() (ValidityRange, bool) { return m.ValidBetween, true }

// GeographicalArea is a country, region or group a measure applies to.
type GeographicalArea struct {
	SID          int           `json:"sid" yaml:"sid"`
	AreaID       string        `json:"area_id" yaml:"area_id"`
	AreaCode     int           `json:"area_code" yaml:"area_code"`
	ValidBetween ValidityRange `json:"valid_between" yaml:"valid_between"`
}

func (GeographicalArea) Kind() RecordKind { return KindGeographicalArea }
func (g GeographicalArea) Identity() Identity {
	return Identity{Kind: KindGeographicalArea, Key: sidKey(g.SID)}
}
func (g GeographicalArea) Validity() (ValidityRange, bool) { return g.ValidBetween, true }

// AdditionalCode refines a measure beyond the commodity code.
type AdditionalCode struct {
	SID          int           `json:"sid" yaml:"sid"`
	TypeID       string        `json:"type_id" yaml:"type_id"`
	Code         string        `json:"code" yaml:"code"`
	ValidBetween ValidityRange `json:"valid_between" yaml:"valid_between"`
}

func (AdditionalCode) Kind() RecordKind { return KindAdditionalCode }
func (a AdditionalCode) Identity() Identity {
	return Identity{Kind: KindAdditionalCode, Key: sidKey(a.SID)}
}
func (a AdditionalCode) Validity() (ValidityRange, bool) { return a.ValidBetween, true }

// Certificate is a document a measure condition may require.
type Certificate struct {
	TypeCode     string        `json:"type_code" yaml:"type_code"`
	Code         string        `json:"code" yaml:"code"`
	ValidBetween ValidityRange `json:"valid_between" yaml:"valid_between"`
}

func (Certificate) Kind() RecordKind { return KindCertificate }
func (c Certificate) Identity() Identity {
	return CertificateIdentity(c.TypeCode, c.Code)
}
func (c Certificate) Validity() (ValidityRange, bool) { return c.ValidBetween, true }

// CertificateIdentity builds the identity of a certificate from its type and code.
func CertificateIdentity(typeCode, code string) Identity {
	return Identity{Kind: KindCertificate, Key: typeCode + code}
}

// QuotaOrderNumber identifies a quota a measure draws from.
type QuotaOrderNumber struct {
	SID          int           `json:"sid" yaml:"sid"`
	OrderNumber  string        `json:"order_number" yaml:"order_number"`
	ValidBetween ValidityRange `json:"valid_between" yaml:"valid_between"`
}

func (QuotaOrderNumber) Kind() RecordKind { return KindQuotaOrderNumber }
func (q QuotaOrderNumber) Identity() Identity {
	return Identity{Kind: KindQuotaOrderNumber, Key: sidKey(q.SID)}
}
func (q QuotaOrderNumber) Validity() (ValidityRange, bool) { return q.ValidBetween, true }

// DeclarableSuffix marks a goods nomenclature line that can carry measures.
const DeclarableSuffix = "80"

// GoodsNomenclature is one commodity code line.
type GoodsNomenclature struct {
	SID          int           `json:"sid" yaml:"sid"`
	ItemID       string        `json:"item_id" yaml:"item_id"`
	Suffix       string        `json:"suffix" yaml:"suffix"`
	ValidBetween ValidityRange `json:"valid_between" yaml:"valid_between"`
}

func (GoodsNomenclature) Kind() RecordKind { return KindGoodsNomenclature }
func (g GoodsNomenclature) Identity() Identity {
	return Identity{Kind: KindGoodsNomenclature, Key: sidKey(g.SID)}
}
func (g GoodsNomenclature) Validity() (ValidityRange, bool) { return g.ValidBetween, true }

// IsChapter reports whether the line is a two-digit chapter.
func (g GoodsNomenclature) IsChapter() bool {
	return len(g.ItemID) == 10 && strings.HasSuffix(g.ItemID, "00000000") && g.Suffix == DeclarableSuffix
}

// Chapter returns the two-digit chapter prefix.
func (g GoodsNomenclature) Chapter() string {
	if len(g.ItemID) < 2 {
		return g.ItemID
	}
	return g.ItemID[:2]
}

// SignificantDigits strips trailing zero digit pairs, e.g. 1401000000 -> 1401.
func SignificantDigits(itemID string) string {
	out := itemID
	for len(out) > 2 && strings.HasSuffix(out, "00") {
		out = out[:len(out)-2]
	}
	return out
}

// GoodsNomenclatureIndent declares the depth of a commodity for a period.
type GoodsNomenclatureIndent struct {
	SID          int           `json:"sid" yaml:"sid"`
	GoodsSID     int           `json:"goods_sid" yaml:"goods_sid"`
	Indent       int           `json:"indent" yaml:"indent"`
	ValidBetween ValidityRange `json:"valid_between" yaml:"valid_between"`
}

func (GoodsNomenclatureIndent) Kind() RecordKind { return KindIndent }
func (i GoodsNomenclatureIndent) Identity() Identity {
	return Identity{Kind: KindIndent, Key: sidKey(i.SID)}
}
func (i GoodsNomenclatureIndent) Validity() (ValidityRange, bool) { return i.ValidBetween, true }

// GoodsIdentity returns the identity of the commodity the indent belongs to.
func (i GoodsNomenclatureIndent) GoodsIdentity() Identity {
	return Identity{Kind: KindGoodsNomenclature, Key: sidKey(i.GoodsSID)}
}

// Measure applies a duty, control or quota to goods for an area.
type Measure struct {
	SID                int           `json:"sid" yaml:"sid"`
	MeasureTypeID      string        `json:"measure_type_id" yaml:"measure_type_id"`
	GeographicalAreaID string        `json:"geographical_area_id" yaml:"geographical_area_id"`
	GoodsSID           *int          `json:"goods_sid,omitempty" yaml:"goods_sid,omitempty"`
	AdditionalCodeSID  *int          `json:"additional_code_sid,omitempty" yaml:"additional_code_sid,omitempty"`
	OrderNumber        string        `json:"order_number,omitempty" yaml:"order_number,omitempty"`
	ReductionIndicator *int          `json:"reduction_indicator,omitempty" yaml:"reduction_indicator,omitempty"`
	Regulation         RegulationRef `json:"regulation" yaml:"regulation"`
	ValidBetween       ValidityRange `json:"valid_between" yaml:"valid_between"`
}

func (Measure) Kind() RecordKind { return KindMeasure }
func (m Measure) Identity() Identity {
	return Identity{Kind: KindMeasure, Key: sidKey(m.SID)}
}
func (m Measure) Validity() (ValidityRange, bool) { return m.ValidBetween, true }

// MeasureTypeIdentity returns the identity of the measure's type.
func (m Measure) MeasureTypeIdentity() Identity {
	return Identity{Kind: KindMeasureType, Key: m.MeasureTypeID}
}

// GoodsIdentity returns the identity of the measure's commodity, if any.
func (m Measure) GoodsIdentity() (Identity, bool) {
	if m.GoodsSID == nil {
		return Identity{}, false
	}
	return Identity{Kind: KindGoodsNomenclature, Key: sidKey(*m.GoodsSID)}, true
}

// AdditionalCodeIdentity returns the identity of the measure's additional code, if any.
func (m Measure) AdditionalCodeIdentity() (Identity, bool) {
	if m.AdditionalCodeSID == nil {
		return Identity{}, false
	}
	return Identity{Kind: KindAdditionalCode, Key: sidKey(*m.AdditionalCodeSID)}, true
}

// MeasureCondition attaches a certificate requirement to a measure.
type MeasureCondition struct {
	SID               int    `json:"sid" yaml:"sid"`
	MeasureSID        int    `json:"measure_sid" yaml:"measure_sid"`
	ConditionCode     string `json:"condition_code" yaml:"condition_code"`
	ComponentSequence int    `json:"component_sequence" yaml:"component_sequence"`
	CertificateType   string `json:"certificate_type,omitempty" yaml:"certificate_type,omitempty"`
	CertificateCode   string `json:"certificate_code,omitempty" yaml:"certificate_code,omitempty"`
}

func (MeasureCondition) Kind() RecordKind { return KindMeasureCondition }
func (c MeasureCondition) Identity() Identity {
	return Identity{Kind: KindMeasureCondition, Key: sidKey(c.SID)}
}
func (MeasureCondition) Validity() (ValidityRange, bool) { return ValidityRange{}, false }

// MeasureIdentity returns the identity of the owning measure.
func (c MeasureCondition) MeasureIdentity() Identity {
	return Identity{Kind: KindMeasure, Key: sidKey(c.MeasureSID)}
}

// CertificateIdentity returns the identity of the required certificate, if any.
func (c MeasureCondition) CertificateIdentity() (Identity, bool) {
	if c.CertificateType == "" && c.CertificateCode == "" {
		return Identity{}, false
	}
	return CertificateIdentity(c.CertificateType, c.CertificateCode), true
}
