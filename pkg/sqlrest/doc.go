// Package sqlrest lowers parameterized SQL statements onto a REST table-query
// API (PostgREST and compatible gateways).
//
// A statement is classified (operation, table, feature flags), its WHERE,
// ORDER BY and LIMIT/OFFSET clauses are extracted into typed values, and the
// Dispatcher decides between two backends:
//
//   - a table query (select, count, insert, update, delete against one table
//     with AND-combined equality or ILIKE filters), or
//   - a remote raw-SQL procedure that receives the statement with every
//     placeholder rendered as a SQL literal.
//
// The raw path is chosen whenever translation is not exact: unknown
// statements, joins, CTEs, window functions, subqueries, set operations,
// quoted identifiers, string concatenation, aggregation, or any clause the
// extractors cannot represent.
//
// Rendering literals is weaker than server-side parameter binding. String
// values are quoted with embedded single quotes doubled, which is safe under
// standard_conforming_strings=on (the PostgreSQL default) and is the only
// injection defence on the raw path.
package sqlrest
