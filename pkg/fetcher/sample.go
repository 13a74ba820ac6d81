package fetcher

// SampleResponse is written by dry runs in place of a live response.
const SampleResponse = `[
  {"id": 1, "name": "Alice", "email": "alice@example.com", "age": 30},
  {"id": 2, "name": "Bob", "email": "bob@example.com", "age": 35}
]`
