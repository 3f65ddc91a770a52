// Package domain models CalSim time-series tables and the conversions between
// their three tabular layouts.
//
// # Data Source
//
// Series originate from DSS-style time-series stores written by CalSim
// studies. Upstream readers hand this package one record per series (a
// [Series]) or a ready-made tidy table; nothing in here performs I/O.
//
// # Pathnames
//
// Every series is identified by a DSS pathname with seven slashes:
//
//	"/A/B/C/D/E/F/"  →  e.g. "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/"
//
//	A  Source     model or agency that produced the series
//	B  Location   CalSim variable or station, e.g. S_SHSTA
//	C  Category   STORAGE, FLOW-CHANNEL, ...
//	D  (reserved) block start date in the store, always discarded
//	E  Interval   1MON, 1DAY, 1HOUR, 6HOUR (1YEAR for aggregates)
//	F  Scenario   study or run label
//
// Parts are upper-cased when used as filter or group keys. When the Interval is
// not known it is inferred from the timestamp spacing (see [InferInterval]).
//
// # Table Shapes
//
// Tidy (one row per series and timestamp):
//
//	Timestamp | Pathname | Units | DataType | Value [| Study]
//
// The tuple (Pathname, Timestamp, Units, DataType[, Study]) is unique.
//
// Wide (one row per timestamp, one column per series): column labels carry
// the levels Study?, Source, Location, Category, Interval, Scenario, Units,
// DataType. Labels are unique.
//
// Condense: a wide table whose Units and DataType are merged into one
// "Units & Type" level ("CFS PER-AVER") and whose Source, Category, Interval,
// Scenario and Study levels are dropped when constant across the table. The
// dropped values are kept in [CondenseTable.Elided] when the table was built
// here; tables loaded from files have no such metadata and need the caller to
// supply the values again ([PartOverrides]).
//
// # Missing Values
//
// DSS stores missing observations as -901 or -902. They are mapped to an
// invalid [Value] on the way in ([FromStored]). Pivoted cells additionally
// record whether the tidy table had a row for that series and timestamp at all
// ([Cell.Recorded]), so tidy → wide → tidy never fabricates or drops rows.
//
// # Data Types
//
//	PER-AVER  period average (annual aggregate: mean)
//	PER-CUM   period cumulative (annual aggregate: sum)
//	INST-VAL  instantaneous value (annual aggregate: value at fiscal year end)
//	INST-CUM  instantaneous cumulative (treated like INST-VAL)
package domain
