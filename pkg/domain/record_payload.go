package domain

import (
	"encoding/json"
	"fmt"
)

// DecodeRecord builds the concrete record for kind using decode to fill it.
// decode is typically json.Unmarshal or a yaml node decoder bound to a source.
func DecodeRecord(kind RecordKind, decode func(target any) error) (Record, error) {
	switch kind {
	case KindRegulation:
		return decodeInto[Regulation](decode)
	case KindMeasureType:
		return decodeInto[MeasureType](decode)
	case KindGeographicalArea:
		return decodeInto[GeographicalArea](decode)
	case KindAdditionalCode:
		return decodeInto[AdditionalCode](decode)
	case KindCertificate:
		return decodeInto[Certificate](decode)
	case KindQuotaOrderNumber:
		return decodeInto[QuotaOrderNumber](decode)
	case KindGoodsNomenclature:
		return decodeInto[GoodsNomenclature](decode)
	case KindIndent:
		return decodeInto[GoodsNomenclatureIndent](decode)
	case KindMeasure:
		return decodeInto[Measure](decode)
	case KindMeasureCondition:
		return decodeInto[MeasureCondition](decode)
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
}

func decodeInto[T Record](decode func(target any) error) (Record, error) {
	var rec T
	if err := decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UnmarshalRecord decodes a JSON record of the given kind.
func UnmarshalRecord(kind RecordKind, raw json.RawMessage) (Record, error) {
	return DecodeRecord(kind, func(target any) error {
		return json.Unmarshal(raw, target)
	})
}

type versionJSON struct {
	ID            int64           `json:"id"`
	VersionGroup  int64           `json:"version_group"`
	Identity      Identity        `json:"identity"`
	UpdateType    UpdateType      `json:"update_type"`
	TransactionID int64           `json:"transaction_id"`
	ValidBetween  *ValidityRange  `json:"valid_between,omitempty"`
	Record        json.RawMessage `json:"record"`
	CreatedAt     json.RawMessage `json:"created_at"`
}

// MarshalJSON encodes the version with its record in a kind-tagged payload.
func (v Version) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Record)
	if err != nil {
		return nil, fmt.Errorf("encode %s record: %w", v.Identity, err)
	}
	created, err := json.Marshal(v.CreatedAt)
	if err != nil {
		return nil, err
	}
	out := versionJSON{
		ID:            v.ID,
		VersionGroup:  v.VersionGroup,
		Identity:      v.Identity,
		UpdateType:    v.UpdateType,
		TransactionID: v.TransactionID,
		Record:        raw,
		CreatedAt:     created,
	}
	if !v.ValidBetween.IsZero() {
		vb := v.ValidBetween
		out.ValidBetween = &vb
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a version, restoring the typed record from its kind.
func (v *Version) UnmarshalJSON(data []byte) error {
	var in versionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	rec, err := UnmarshalRecord(in.Identity.Kind, in.Record)
	if err != nil {
		return fmt.Errorf("decode %s record: %w", in.Identity, err)
	}
	out := Version{
		ID:            in.ID,
		VersionGroup:  in.VersionGroup,
		Identity:      in.Identity,
		UpdateType:    in.UpdateType,
		TransactionID: in.TransactionID,
		Record:        rec,
	}
	if in.ValidBetween != nil {
		out.ValidBetween = *in.ValidBetween
	}
	if len(in.CreatedAt) > 0 {
		if err := json.Unmarshal(in.CreatedAt, &out.CreatedAt); err != nil {
			return err
		}
	}
	*v = out
	return nil
}
