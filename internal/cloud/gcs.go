// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cloud

import (
	"path"
	"strings"
)

// GCSObjectParam is the chain context key holding the *GCSObject that
// triggered a run.
const GCSObjectParam = "__GCS__OBJ__"

// GCSPubSubNotification is the JSON payload of a Cloud Storage Pub/Sub
// notification.
type GCSPubSubNotification struct {
	Kind                    string                 `json:"kind"`
	ID                      string                 `json:"id"`
	SelfLink                string                 `json:"selfLink"`
	Name                    string                 `json:"name"`
	Bucket                  string                 `json:"bucket"`
	Generation              string                 `json:"generation"`
	MetaGeneration          string                 `json:"metageneration"`
	ContentType             string                 `json:"contentType"`
	TimeCreated             string                 `json:"timeCreated"`
	Updated                 string                 `json:"updated"`
	StorageClass            string                 `json:"storageClass"`
	TimeStorageClassUpdated string                 `json:"timeStorageClassUpdated"`
	Size                    string                 `json:"size"`
	MD5Hash                 string                 `json:"md5Hash"`
	MediaLink               string                 `json:"mediaLink"`
	MetaData                map[string]interface{} `json:"metadata"`
	Crc32c                  string                 `json:"crc32c"`
	ETag                    string                 `json:"etag"`
}

// GCSObject is the part of a notification the migration needs.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
}

// URI returns the gs:// location of the object.
func (o *GCSObject) URI() string {
	return "gs://" + o.Bucket + "/" + strings.TrimPrefix(o.Name, "/")
}

// Dir returns the gs:// location of the "directory" holding the object. An
// object at the bucket root yields the bucket itself.
func (o *GCSObject) Dir() string {
	dir := path.Dir(strings.TrimPrefix(o.Name, "/"))
	if dir == "." || dir == "/" {
		return "gs://" + o.Bucket
	}
	return "gs://" + o.Bucket + "/" + dir
}
