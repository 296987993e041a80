package ports

import (
	"context"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
)

// Notifier presenta el resultado de cada ciclo del keeper al operador.
type Notifier interface {
	// Notify muestra el reporte del ciclo, exitoso o no.
	// En la implementación de consola, imprime una línea compacta.
	Notify(ctx context.Context, report domain.CycleReport) error
}
