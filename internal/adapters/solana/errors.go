package solana

import "errors"

// ErrAccountNotFound indica que la cuenta no existe en el slot consultado.
var ErrAccountNotFound = errors.New("account not found")
