package dialect

func newAthena() *sqlDialect {
	return newTrinoFamily("athena", "Athena")
}
