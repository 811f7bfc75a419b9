package persist

import (
	"fmt"
)

// Row is one decoded result-set row.
// Keys are upper-cased column labels; values are driver-native.
type Row map[string]any

// Decoder converts a Row into a caller-defined entity.
//
// Any type can opt in to query materialisation by providing a Decoder; no base
// type or registration is required. The Decoder owns all field mapping and
// validation: the persist package never inspects the entity.
type Decoder[T any] interface {
	Decode(row Row) (T, error)
}

// DecoderFunc adapts an ordinary function to the Decoder interface.
//
// Example:
//
//	var accountDecoder = persist.DecoderFunc[Account](func(row persist.Row) (Account, error) {
//	    id, _ := row["ID"].(int64)
//	    name, _ := row["NAME"].(string)
//	    return Account{ID: id, Name: name}, nil
//	})
type DecoderFunc[T any] func(row Row) (T, error)

// Decode calls f(row).
func (f DecoderFunc[T]) Decode(row Row) (T, error) {
	return f(row)
}

// materialize runs dec against row and normalises every failure to ErrPersistence.
// A panic inside the decoder is recovered and reported the same way.
func materialize[T any](dec Decoder[T], row Row) (entity T, err error) {
	if dec == nil {
		return entity, fmt.Errorf("%w: no entity decoder", ErrPersistence)
	}

	defer func() {
		if r := recover(); r != nil {
			var zero T
			entity = zero
			if cause, ok := r.(error); ok {
				err = fmt.Errorf("%w: decoder panicked: %w", ErrPersistence, cause)
				return
			}
			err = fmt.Errorf("%w: decoder panicked: %v", ErrPersistence, r)
		}
	}()

	entity, err = dec.Decode(row)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: decoding entity: %w", ErrPersistence, err)
	}
	return entity, nil
}
