// Package stub implements the predicate/response engine behind every stubd
// service. A stub pairs a list of predicates with an ordered list of
// responses; the first stub whose predicates all match an incoming request
// supplies the response, cycling through its response list on repeat hits.
//
// Predicates operate on the protocol-normalized request fields
// (map[string]any), so the engine is shared by every protocol
// implementation. Supported operators: equals, deepEquals, contains,
// startsWith, endsWith, matches (regexp), exists, and/or/not composition,
// jsonpath (against the body as JSON), xpath (against the body as XML) and
// expression (an expr-lang expression over the request fields).
package stub
