// Package schema defines the records the offline sync layer stores and
// exchanges with the remote review API.
//
// Two record collections exist, restaurants and reviews, named by the
// closed Collection type. A third, internal collection holds
// PendingOperation entries: writes that were committed locally but could
// not be confirmed by the server yet.
//
// Records travel as JSON in the remote API's wire format (snake_case for
// restaurant_id, cuisine_type and is_favorite; camelCase for createdAt and
// updatedAt). The local store persists that same JSON, so a record read
// back from the store is field-for-field equal to the one written.
package schema
